// Package locale holds the UI message catalog shipped with the site, the
// persisted locale preference and the selector that ties them together.
package locale

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"

	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

const (
	// DefaultFallback is used when the requested locale or key is unknown.
	DefaultFallback = "zh"

	filePattern = "messages.*.toml"
)

//go:embed messages/messages.*.toml
var embedded embed.FS

// Messages returns the embedded message files.
func Messages() fs.FS {
	sub, err := fs.Sub(embedded, "messages")
	if err != nil {
		panic(fmt.Errorf("locale: messages subfs: %w", err))
	}
	return sub
}

var loadDefault = sync.OnceValues(func() (*Catalog, error) {
	return Load(Messages(), DefaultFallback, true)
})

// Default returns the catalog embedded in the binary (en and zh, falling
// back to zh).
func Default() (*Catalog, error) { return loadDefault() }

// Catalog is an immutable set of flattened messages per locale.
type Catalog struct {
	bundle   *i18n.Bundle
	fallback string
	locales  []string
	matcher  language.Matcher
	messages map[string]map[string]string
	problems []Problem
}

// Problem lists the keys a locale is missing or carries beyond the fallback.
type Problem struct {
	Locale  string
	Missing []string
	Extra   []string
}

func (p Problem) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:", p.Locale)
	if len(p.Missing) > 0 {
		fmt.Fprintf(&b, " missing %s", strings.Join(p.Missing, ", "))
	}
	if len(p.Extra) > 0 {
		if len(p.Missing) > 0 {
			b.WriteString(";")
		}
		fmt.Fprintf(&b, " extra %s", strings.Join(p.Extra, ", "))
	}
	return b.String()
}

// Load reads every messages.<locale>.toml file at the root of fsys. The
// fallback locale must be present. With strict set, any locale whose keys
// differ from the fallback's is an error; otherwise the differences are kept
// for Problems and lookups fall back per key.
func Load(fsys fs.FS, fallback string, strict bool) (*Catalog, error) {
	fallbackTag, err := language.Parse(fallback)
	if err != nil {
		return nil, xerrors.Wrapf(err, "parse fallback locale %q", fallback)
	}

	files, err := fs.Glob(fsys, filePattern)
	if err != nil {
		return nil, xerrors.Wrap(err, "list message files")
	}
	if len(files) == 0 {
		return nil, xerrors.Newf("no %s files found", filePattern)
	}

	messages := make(map[string]map[string]string, len(files))
	tags := make(map[string]language.Tag, len(files))
	for _, name := range files {
		loc := strings.TrimSuffix(strings.TrimPrefix(path.Base(name), "messages."), ".toml")
		tag, err := language.Parse(loc)
		if err != nil {
			return nil, xerrors.Wrapf(err, "%s: invalid locale %q", name, loc)
		}
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, xerrors.Wrapf(err, "read %s", name)
		}
		var tree map[string]any
		if err := toml.Unmarshal(data, &tree); err != nil {
			return nil, xerrors.Wrapf(err, "decode %s", name)
		}
		flat := map[string]string{}
		if err := flatten("", tree, flat); err != nil {
			return nil, xerrors.Wrapf(err, "%s", name)
		}
		messages[loc] = flat
		tags[loc] = tag
	}

	if _, ok := messages[fallback]; !ok {
		return nil, xerrors.Newf("fallback locale %q has no message file", fallback)
	}

	c := &Catalog{
		bundle:   i18n.NewBundle(fallbackTag),
		fallback: fallback,
		messages: messages,
	}

	// fallback first so the matcher defaults to it
	c.locales = append(c.locales, fallback)
	for loc := range messages {
		if loc != fallback {
			c.locales = append(c.locales, loc)
		}
	}
	sort.Strings(c.locales[1:])

	matchTags := make([]language.Tag, len(c.locales))
	for i, loc := range c.locales {
		matchTags[i] = tags[loc]
		for id, text := range messages[loc] {
			if err := c.bundle.AddMessages(tags[loc], &i18n.Message{ID: id, Other: text}); err != nil {
				return nil, xerrors.Wrapf(err, "register %s/%s", loc, id)
			}
		}
	}
	c.matcher = language.NewMatcher(matchTags)

	c.problems = c.compare()
	if strict && len(c.problems) > 0 {
		errs := make([]error, 0, len(c.problems))
		for _, p := range c.problems {
			errs = append(errs, xerrors.Newf("locale %s", p))
		}
		return nil, errors.Join(errs...)
	}
	return c, nil
}

// flatten turns nested tables into dotted keys. Every leaf must be a string.
func flatten(prefix string, tree map[string]any, out map[string]string) error {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := v.(type) {
		case string:
			if _, dup := out[key]; dup {
				return xerrors.Newf("duplicate key %q", key)
			}
			out[key] = v
		case map[string]any:
			if err := flatten(key, v, out); err != nil {
				return err
			}
		default:
			return xerrors.Newf("key %q: expected string or table, got %T", key, v)
		}
	}
	return nil
}

func (c *Catalog) compare() []Problem {
	base := c.messages[c.fallback]
	var out []Problem
	for _, loc := range c.locales[1:] {
		msgs := c.messages[loc]
		p := Problem{Locale: loc}
		for k := range base {
			if _, ok := msgs[k]; !ok {
				p.Missing = append(p.Missing, k)
			}
		}
		for k := range msgs {
			if _, ok := base[k]; !ok {
				p.Extra = append(p.Extra, k)
			}
		}
		if len(p.Missing)+len(p.Extra) > 0 {
			sort.Strings(p.Missing)
			sort.Strings(p.Extra)
			out = append(out, p)
		}
	}
	return out
}

// T renders key in locale, then in the fallback locale, and finally returns
// the key itself. {name} placeholders are replaced from args.
func (c *Catalog) T(locale, key string, args map[string]any) string {
	if key == "" {
		return ""
	}
	langs := make([]string, 0, 2)
	if locale != "" {
		langs = append(langs, locale)
	}
	langs = append(langs, c.fallback)

	msg, err := i18n.NewLocalizer(c.bundle, langs...).Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: args,
	})
	if err != nil {
		return key
	}
	return interpolate(msg, args)
}

// interpolate substitutes {name} placeholders. Unknown placeholders are left
// untouched.
func interpolate(msg string, args map[string]any) string {
	if len(args) == 0 || !strings.Contains(msg, "{") {
		return msg
	}
	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(v))
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

// Locales returns the loaded locales, fallback first.
func (c *Catalog) Locales() []string { return slices.Clone(c.locales) }

func (c *Catalog) Fallback() string { return c.fallback }

// Supported reports whether locale has its own message file.
func (c *Catalog) Supported(locale string) bool {
	_, ok := c.messages[locale]
	return ok
}

// Problems returns key differences against the fallback locale.
func (c *Catalog) Problems() []Problem { return slices.Clone(c.problems) }

// Keys returns the sorted message IDs defined for locale.
func (c *Catalog) Keys(locale string) []string {
	msgs := c.messages[locale]
	keys := make([]string, 0, len(msgs))
	for k := range msgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Tree returns the messages of locale as nested maps, ready for JSON
// encoding. The result is a fresh copy.
func (c *Catalog) Tree(locale string) (map[string]any, bool) {
	msgs, ok := c.messages[locale]
	if !ok {
		return nil, false
	}
	root := map[string]any{}
	for key, text := range msgs {
		node := root
		parts := strings.Split(key, ".")
		for _, p := range parts[:len(parts)-1] {
			next, ok := node[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[p] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = text
	}
	return root, true
}

// Match picks the best supported locale for a list of language tags, such as
// the entries of an Accept-Language header. Unparseable tags are ignored.
func (c *Catalog) Match(tags ...string) string {
	var want []language.Tag
	for _, s := range tags {
		if t, err := language.Parse(strings.TrimSpace(s)); err == nil {
			want = append(want, t)
		}
	}
	if len(want) == 0 {
		return c.fallback
	}
	_, i, conf := c.matcher.Match(want...)
	if conf == language.No {
		return c.fallback
	}
	return c.locales[i]
}

// MatchHeader is Match for a raw Accept-Language header value.
func (c *Catalog) MatchHeader(accept string) string {
	want, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(want) == 0 {
		return c.fallback
	}
	_, i, conf := c.matcher.Match(want...)
	if conf == language.No {
		return c.fallback
	}
	return c.locales[i]
}
