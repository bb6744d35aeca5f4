package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	transport "quiz-attempt-service/internal/transport/http"
)

// NewTokenCmd issues a signed token for local testing.
func NewTokenCmd(configPath *string) *cobra.Command {
	var student domain.Student
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a student or teacher",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.RequireAuth(); err != nil {
				return err
			}
			if student.ID == "" {
				return fmt.Errorf("--id is required")
			}
			student.Role = strings.ToUpper(student.Role)
			token, err := transport.NewAuthenticator(cfg.Auth.JWTSecret).
				Issue(student, config.TTLDuration(cfg.Auth.TokenTTL, 12*time.Hour))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&student.ID, "id", "", "student id (token subject)")
	cmd.Flags().StringVar(&student.Name, "name", "", "display name")
	cmd.Flags().StringVar(&student.Email, "email", "", "email")
	cmd.Flags().StringVar(&student.Group, "group", "", "student group")
	cmd.Flags().StringVar(&student.Role, "role", domain.RoleStudent, "STUDENT or TEACHER")
	return cmd
}
