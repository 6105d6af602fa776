package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"timesheet_sync/internal/domain"
	"timesheet_sync/internal/secret"
	"timesheet_sync/internal/storage/postgres"
)

func credentialCmd() *cobra.Command {
	var (
		userID int64
		login  string
	)

	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Store the encrypted remote login of a user",
		Long:  `Reads the remote password from stdin, encrypts it with the configured key and stores it for the user.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			box, err := secret.NewBox(cfg.Secret.Key)
			if err != nil {
				return fmt.Errorf("create secret box: %w", err)
			}

			fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
			reader := bufio.NewReader(cmd.InOrStdin())
			password, err := reader.ReadString('\n')
			if err != nil && password == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(password, "\r\n")
			if password == "" {
				return errors.New("empty password")
			}

			encrypted, err := box.Encrypt(password)
			if err != nil {
				return fmt.Errorf("encrypt password: %w", err)
			}

			db, err := connectDB(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			err = postgres.NewCredentialStore(db).Save(context.Background(), &domain.StoredCredential{
				UserID: userID,
				Login:  login,
				Secret: encrypted,
			})
			if err != nil {
				return err
			}

			logger.Info("credential stored", "user_id", userID, "login", login)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&userID, "user", "u", 0, "local user id")
	cmd.Flags().StringVarP(&login, "login", "l", "", "remote login (email)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("login")

	return cmd
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a new random credential encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secret.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
