package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"nasmedia/internal/config"
	"nasmedia/internal/protect"
)

// runPasswd protects a directory offline, or prints a bcrypt hash when no
// directory is given. It returns the process exit code.
func runPasswd(args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		appDir   = fs.String("app-dir", "", "app dir holding dir_passwords.json (default: $NAS_MEDIA_APP_DIR or "+config.DefaultAppDir+")")
		dir      = fs.String("dir", "", "directory to protect, relative to the media root")
		password = fs.String("p", "", "password (required)")
		cost     = fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *password == "" {
		fmt.Fprintln(stderr, "usage: nasmedia passwd [-app-dir <dir>] [-dir <rel>] -p <password>")
		return 2
	}
	if *cost < bcrypt.MinCost || *cost > bcrypt.MaxCost {
		fmt.Fprintf(stderr, "invalid cost %d (min=%d max=%d)\n", *cost, bcrypt.MinCost, bcrypt.MaxCost)
		return 2
	}

	if *dir == "" {
		h, err := bcrypt.GenerateFromPassword([]byte(*password), *cost)
		if err != nil {
			fmt.Fprintf(stderr, "bcrypt: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(h))
		return 0
	}

	if *appDir == "" {
		*appDir = getenv("NAS_MEDIA_APP_DIR")
	}
	if *appDir == "" {
		*appDir = config.DefaultAppDir
	}
	log := logrus.New()
	log.SetOutput(stderr)
	reg, err := protect.Open(*appDir, log, protect.WithCost(*cost))
	if err != nil {
		log.WithError(err).Error("open password registry")
		return 1
	}
	if err := reg.SetPassword(*dir, *password); err != nil {
		log.WithError(err).Error("set password")
		return 1
	}
	fmt.Fprintf(stdout, "protected %q in %s\n", *dir, reg.Path())
	return 0
}
