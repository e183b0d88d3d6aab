package manifest

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// LookupFunc resolves a variable; ok is false when it is unset.
type LookupFunc func(key string) (string, bool)

// Load parses a Compose document, substitutes variables through lookup and
// returns the validated stack.
func Load(r io.Reader, lookup LookupFunc) (*domain.Stack, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrInvalidManifest, err)
	}
	if err := interpolateNode(&doc, lookup); err != nil {
		return nil, err
	}

	var cf ComposeFile
	if err := doc.Decode(&cf); err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrInvalidManifest, err)
	}
	stack, err := cf.ToStack()
	if err != nil {
		return nil, err
	}
	if err := stack.Validate(); err != nil {
		return nil, err
	}
	return stack, nil
}

// LoadFile is Load for a file on disk. Relative local build contexts are
// resolved against the manifest's directory, as Compose does.
func LoadFile(path string, lookup LookupFunc) (*domain.Stack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	stack, err := Load(f, lookup)
	if err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve manifest directory: %w", err)
	}
	for i := range stack.Services {
		b := stack.Services[i].Build
		if b == nil || b.Repository != "" || b.Context == "" || filepath.IsAbs(b.Context) {
			continue
		}
		build := *b
		build.Context = filepath.Join(dir, filepath.FromSlash(b.Context))
		stack.Services[i].Build = &build
	}
	return stack, nil
}

func interpolateNode(n *yaml.Node, lookup LookupFunc) error {
	if n.Kind == yaml.ScalarNode && strings.Contains(n.Value, "$") {
		val, err := Interpolate(n.Value, lookup)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		if val != n.Value {
			n.Value = val
			// re-resolve the tag, "${PORT}" becomes an int
			n.Tag = ""
			n.Style = 0
		}
	}
	for _, child := range n.Content {
		if err := interpolateNode(child, lookup); err != nil {
			return err
		}
	}
	return nil
}

// Interpolate substitutes $VAR, ${VAR}, ${VAR:-default}, ${VAR-default},
// ${VAR:?message} and ${VAR?message}. "$$" is a literal dollar sign.
// A variable that is unset and has no default is an error: nothing is
// silently replaced with an empty string.
func Interpolate(s string, lookup LookupFunc) (string, error) {
	var firstErr error
	out := os.Expand(strings.ReplaceAll(s, "$$", "\x00"), func(expr string) string {
		val, err := resolve(expr, lookup)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return strings.ReplaceAll(out, "\x00", "$"), nil
}

func resolve(expr string, lookup LookupFunc) (string, error) {
	idx := strings.IndexAny(expr, ":-?")
	if idx < 0 {
		val, ok := lookup(expr)
		if !ok {
			return "", fmt.Errorf("%w: %s is not set", errdefs.ErrInterpolation, expr)
		}
		return val, nil
	}

	name, op := expr[:idx], expr[idx:idx+1]
	if op == ":" {
		if idx+1 >= len(expr) {
			return "", fmt.Errorf("%w: bad substitution %q", errdefs.ErrInterpolation, expr)
		}
		op = expr[idx : idx+2]
	}
	arg := expr[idx+len(op):]

	val, ok := lookup(name)
	empty := !ok || (op[0] == ':' && val == "")
	switch {
	case !empty:
		return val, nil
	case op == ":-" || op == "-":
		return arg, nil
	case op == ":?" || op == "?":
		return "", fmt.Errorf("%w: %s: %s", errdefs.ErrInterpolation, name, arg)
	default:
		return "", fmt.Errorf("%w: bad substitution %q", errdefs.ErrInterpolation, expr)
	}
}

// EnvLookup chains lookups; the first one that knows the key wins.
func EnvLookup(lookups ...LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if val, ok := l(key); ok {
				return val, true
			}
		}
		return "", false
	}
}
