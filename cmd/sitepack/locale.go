package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/keithlinneman/pdfsplit-web/internal/locale"
	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

func (a *app) locale(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: locale needs a subcommand (check, get, set, export)", errUsage)
	}
	switch sub, rest := args[0], args[1:]; sub {
	case "check":
		return a.localeCheck(ctx, rest)
	case "get":
		sel, err := a.selector(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.stdout, sel.Current())
		return nil
	case "set":
		if len(rest) != 1 {
			return fmt.Errorf("%w: locale set needs exactly one locale", errUsage)
		}
		sel, err := a.selector(ctx)
		if err != nil {
			return err
		}
		if err := sel.Set(ctx, rest[0]); err != nil {
			return err
		}
		a.L.Info(ctx, "locale saved", "locale", sel.Current(), "store", a.path(a.conf.LocaleStore))
		return nil
	case "export":
		return a.localeExport(ctx, rest)
	default:
		return fmt.Errorf("%w: unknown locale subcommand %q", errUsage, sub)
	}
}

func (a *app) selector(ctx context.Context) (*locale.Selector, error) {
	cat, err := locale.Default()
	if err != nil {
		return nil, err
	}
	return locale.NewSelector(ctx, cat, locale.NewFileStore(a.path(a.conf.LocaleStore)))
}

// localeCheck loads message files leniently and reports every key that
// differs from the fallback locale.
func (a *app) localeCheck(ctx context.Context, args []string) error {
	fs := subFlags("locale check", io.Discard)
	dir := fs.String("dir", "", "directory of messages.<locale>.toml files (default: embedded)")
	fallback := fs.String("fallback", locale.DefaultFallback, "locale every other locale is compared against")
	if err := parseSub(fs, args); err != nil {
		return err
	}

	src := locale.Messages()
	if *dir != "" {
		src = os.DirFS(*dir)
	}
	cat, err := locale.Load(src, *fallback, false)
	if err != nil {
		return err
	}

	problems := cat.Problems()
	for _, p := range problems {
		fmt.Fprintln(a.stdout, p.String())
	}
	if len(problems) > 0 {
		return xerrors.Newf("%d locales differ from %s", len(problems), cat.Fallback())
	}
	fmt.Fprintf(a.stdout, "ok: %d locales, %d keys\n", len(cat.Locales()), len(cat.Keys(cat.Fallback())))
	return nil
}

// localeExport writes the catalog as nested JSON, one document per locale.
// Without -o a single locale goes to stdout.
func (a *app) localeExport(ctx context.Context, args []string) error {
	fs := subFlags("locale export", io.Discard)
	out := fs.String("o", "", "directory to write <locale>.json files into")
	if err := parseSub(fs, args); err != nil {
		return err
	}
	cat, err := locale.Default()
	if err != nil {
		return err
	}

	locales := fs.Args()
	if len(locales) == 0 {
		if *out == "" {
			locales = []string{cat.Fallback()}
		} else {
			locales = cat.Locales()
		}
	}
	if *out == "" && len(locales) > 1 {
		return fmt.Errorf("%w: exporting several locales needs -o", errUsage)
	}

	for _, loc := range locales {
		tree, ok := cat.Tree(loc)
		if !ok {
			return xerrors.Wrapf(locale.ErrUnsupported, "export %q", loc)
		}
		data, err := json.MarshalIndent(tree, "", "  ")
		if err != nil {
			return xerrors.Wrapf(err, "encode %s", loc)
		}
		data = append(data, '\n')

		if *out == "" {
			_, err := a.stdout.Write(data)
			return err
		}
		if err := writeExport(*out, loc, data); err != nil {
			return err
		}
		a.L.Debug(ctx, "locale exported", "locale", loc, "dir", *out)
	}
	return nil
}

func writeExport(dir, loc string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrapf(err, "create %s", dir)
	}
	name := filepath.Join(dir, loc+".json")
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return xerrors.Wrapf(err, "write %s", name)
	}
	return nil
}
