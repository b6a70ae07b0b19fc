package main

import (
	"bytes"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"nasmedia/internal/protect"
)

func TestRunPasswd(t *testing.T) {
	minCost := strconv.Itoa(bcrypt.MinCost)
	cases := []struct {
		name     string
		args     func(appDir string) []string
		env      bool
		code     int
		wantDir  string
		wantHash bool
	}{
		{
			name:     "print hash",
			args:     func(string) []string { return []string{"-p", "secret", "-cost", minCost} },
			code:     0,
			wantHash: true,
		},
		{
			name: "protect with app dir flag",
			args: func(d string) []string {
				return []string{"-app-dir", d, "-dir", "/kids/", "-p", "secret", "-cost", minCost}
			},
			code:    0,
			wantDir: "kids",
		},
		{
			name:    "app dir from environment",
			args:    func(string) []string { return []string{"-dir", "movies/private", "-p", "secret", "-cost", minCost} },
			env:     true,
			code:    0,
			wantDir: "movies/private",
		},
		{
			name: "missing password",
			args: func(d string) []string { return []string{"-app-dir", d, "-dir", "kids"} },
			code: 2,
		},
		{
			name: "cost out of range",
			args: func(string) []string { return []string{"-p", "secret", "-cost", "99"} },
			code: 2,
		},
		{
			name: "unknown flag",
			args: func(string) []string { return []string{"-x"} },
			code: 2,
		},
		{
			name: "root cannot be protected",
			args: func(d string) []string { return []string{"-app-dir", d, "-dir", "/", "-p", "secret", "-cost", minCost} },
			code: 1,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			appDir := t.TempDir()
			getenv := func(string) string { return "" }
			if c.env {
				getenv = func(k string) string {
					if k == "NAS_MEDIA_APP_DIR" {
						return appDir
					}
					return ""
				}
			}
			var stdout, stderr bytes.Buffer
			code := runPasswd(c.args(appDir), getenv, &stdout, &stderr)
			if code != c.code {
				t.Fatalf("code=%d want %d stderr=%s", code, c.code, stderr.String())
			}

			if c.wantHash {
				h := strings.TrimSpace(stdout.String())
				if bcrypt.CompareHashAndPassword([]byte(h), []byte("secret")) != nil {
					t.Fatalf("printed hash does not verify: %q", h)
				}
			}
			if c.wantDir == "" {
				return
			}
			log := logrus.New()
			log.SetOutput(io.Discard)
			reg, err := protect.Open(appDir, log)
			if err != nil {
				t.Fatal(err)
			}
			if dirs, _ := reg.Dirs(); len(dirs) != 1 || dirs[0] != c.wantDir {
				t.Fatalf("protected dirs=%v want [%s]", dirs, c.wantDir)
			}
			if ok, _ := reg.Verify(c.wantDir, "wrong"); ok {
				t.Fatalf("wrong password accepted")
			}
			ok, err := reg.Verify(c.wantDir, "secret")
			if err != nil || !ok {
				t.Fatalf("Verify(%q)=(%v,%v)", c.wantDir, ok, err)
			}
			if !strings.Contains(stdout.String(), c.wantDir) {
				t.Fatalf("stdout=%q", stdout.String())
			}
		})
	}
}
