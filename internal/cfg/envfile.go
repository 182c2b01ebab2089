package cfg

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

// EnvFiles lists the dotenv files read for mode, lowest priority first.
// Local overrides are skipped in test mode.
func EnvFiles(mode string) []string {
	files := []string{".env"}
	if mode != "test" {
		files = append(files, ".env.local")
	}
	if mode != "" {
		files = append(files, ".env."+mode)
		if mode != "test" {
			files = append(files, ".env."+mode+".local")
		}
	}
	return files
}

// LoadEnvFiles merges the dotenv files for mode found in dir with the
// process environment. Missing files are skipped. Process variables always
// win over file values.
func LoadEnvFiles(dir, mode string) (map[string]string, error) {
	env := map[string]string{}
	for _, name := range EnvFiles(mode) {
		path := filepath.Join(dir, name)
		vals, err := godotenv.Read(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, xerrors.Wrapf(err, "read %s", path)
		}
		for k, v := range vals {
			env[k] = v
		}
	}
	for k, v := range ProcessEnv() {
		env[k] = v
	}
	return env, nil
}

// ProcessEnv returns os.Environ as a map.
func ProcessEnv() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// ResolveMode returns the -mode value to use for choosing dotenv files. The
// mode itself can only come from the CLI or the process environment.
func ResolveMode(fs *flag.FlagSet, prefix string) string {
	f := fs.Lookup("mode")
	if f == nil {
		return ""
	}
	set := false
	fs.Visit(func(v *flag.Flag) {
		if v.Name == "mode" {
			set = true
		}
	})
	if !set {
		if v, ok := os.LookupEnv(prefix + "MODE"); ok && v != "" {
			return v
		}
	}
	return f.Value.String()
}
