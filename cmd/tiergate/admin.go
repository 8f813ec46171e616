package main

import (
	"errors"

	"github.com/aman-churiwal/tier-gate/internal/models"
	"github.com/aman-churiwal/tier-gate/internal/repository"
	"github.com/aman-churiwal/tier-gate/internal/service"
	"github.com/aman-churiwal/tier-gate/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	operatorEmail    string
	operatorPassword string
	operatorName     string
	operatorRole     string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Operator account management",
}

var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create an operator (admin) or service account",
	RunE: func(cmd *cobra.Command, args []string) error {
		if operatorEmail == "" || operatorPassword == "" {
			return errors.New("--email and --password are required")
		}

		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer logger.Sync()

		db, err := storage.NewPostgres(cfg.Database.DSN, false)
		if err != nil {
			return err
		}
		defer db.Close()

		auth := service.NewAuthService(repository.NewOperatorRepository(db), cfg.Auth.JWTSecret, cfg.Auth.JWTExpiryHours)
		if err := auth.Register(cmd.Context(), operatorEmail, operatorPassword, operatorName, operatorRole); err != nil {
			return err
		}

		logger.Info("operator created", zap.String("email", operatorEmail), zap.String("role", operatorRole))
		return nil
	},
}

func init() {
	createUserCmd.Flags().StringVar(&operatorEmail, "email", "", "operator email")
	createUserCmd.Flags().StringVar(&operatorPassword, "password", "", "operator password")
	createUserCmd.Flags().StringVar(&operatorName, "name", "", "display name")
	createUserCmd.Flags().StringVar(&operatorRole, "role", models.RoleAdmin, "admin or service")

	adminCmd.AddCommand(createUserCmd)
}
