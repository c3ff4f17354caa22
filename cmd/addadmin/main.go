package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/shopguard/internal/db"
	"github.com/nkiryanov/shopguard/internal/models"
	"github.com/nkiryanov/shopguard/internal/repository"
	"github.com/nkiryanov/shopguard/internal/repository/postgres"
	"github.com/nkiryanov/shopguard/internal/service/auth"
)

// Admins can't register themselves, accounts are created from the command line
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout, os.Getenv, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "can't create admin: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	DatabaseDSN string
	Username    string
	Email       string
	Password    string
}

func run(ctx context.Context, w io.Writer, getenv func(string) string, args []string) error {
	o, err := parseOptions(getenv, args)
	if err != nil {
		return err
	}

	pool, err := db.ConnectAndMigrate(ctx, o.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("error while connecting to db. Err: %w", err)
	}
	defer pool.Close()

	admin, err := createAdmin(ctx, postgres.NewStorage(pool).User(), auth.BcryptHasher{}, o)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "admin %q created, id=%s\n", admin.Username, admin.ID)
	return err
}

// Password can come from ADMIN_PASSWORD so it doesn't stay in shell history
func parseOptions(getenv func(string) string, args []string) (options, error) {
	o := options{
		DatabaseDSN: getenv("DATABASE_URI"),
		Password:    getenv("ADMIN_PASSWORD"),
	}
	if o.DatabaseDSN == "" {
		if wd, err := os.Getwd(); err == nil {
			envMap, err := godotenv.Read(filepath.Join(wd, ".env"))
			if err == nil {
				o.DatabaseDSN = envMap["DATABASE_URI"]
			}
		}
	}

	fs := pflag.NewFlagSet("addadmin", pflag.ContinueOnError)
	fs.StringVarP(&o.DatabaseDSN, "database", "d", o.DatabaseDSN, "Database connection string")
	fs.StringVarP(&o.Username, "username", "u", "", "Admin username")
	fs.StringVar(&o.Email, "email", "", "Admin email")
	fs.StringVarP(&o.Password, "password", "p", o.Password, "Admin password")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	switch {
	case o.DatabaseDSN == "":
		return o, errors.New("database is required")
	case o.Username == "":
		return o, errors.New("username is required")
	case len(o.Password) < 8:
		return o, errors.New("password of 8 or more characters is required")
	}
	return o, nil
}

func createAdmin(ctx context.Context, users repository.UserRepo, hasher auth.PasswordHasher, o options) (models.User, error) {
	hash, err := hasher.Hash(o.Password)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	return users.CreateUser(ctx, models.User{
		Type:           models.SubjectAdmin,
		Username:       o.Username,
		Email:          o.Email,
		HashedPassword: hash,
	})
}
