package tool

import (
	"context"
	"fmt"
	"os"

	"github.com/PaesslerAG/gval"

	"github.com/n3flow/core/internal/platform/config"
)

// BuildSpecs compiles the YAML tool registry overlay into runtime Specs.
// Auth values may be gval expressions referencing env.NAME (e.g.
// "env.API_TOKEN"), so a secret never has to be written into the YAML file
// itself; anything that isn't a valid expression is used as a literal.
func BuildSpecs(tools []config.ToolSpec) (map[string]*Spec, error) {
	specs := make(map[string]*Spec, len(tools))
	for _, t := range tools {
		spec := &Spec{
			Name:    t.Name,
			Kind:    Kind(t.Kind),
			BaseURL: t.BaseURL,
			Method:  "POST",
		}
		if auth, err := resolveAuth(t.Auth); err != nil {
			return nil, fmt.Errorf("tool %q: %w", t.Name, err)
		} else {
			spec.Auth = auth
		}
		specs[t.Name] = spec
	}
	return specs, nil
}

// resolveAuth evaluates the YAML overlay's "auth" map into an Auth value.
// Each entry's value is first tried as a gval expression (in scope: env,
// a map of process environment variables) and falls back to its literal
// text if evaluation fails, so plain strings keep working untouched.
func resolveAuth(raw map[string]string) (Auth, error) {
	kind := AuthKind(raw["kind"])
	if kind == "" {
		kind = AuthNone
	}
	scope := map[string]any{"env": envMap()}
	ctx := context.Background()

	resolve := func(field string) (string, error) {
		expr, ok := raw[field]
		if !ok || expr == "" {
			return "", nil
		}
		eval, err := gval.Full().NewEvaluable(expr)
		if err != nil {
			return expr, nil
		}
		v, err := eval(ctx, scope)
		if err != nil {
			return expr, nil
		}
		s, ok := v.(string)
		if !ok {
			return expr, nil
		}
		return s, nil
	}

	token, err := resolve("token")
	if err != nil {
		return Auth{}, err
	}
	username, err := resolve("username")
	if err != nil {
		return Auth{}, err
	}
	password, err := resolve("password")
	if err != nil {
		return Auth{}, err
	}
	headerName, err := resolve("header_name")
	if err != nil {
		return Auth{}, err
	}
	headerVal, err := resolve("header_value")
	if err != nil {
		return Auth{}, err
	}

	return Auth{
		Kind:       kind,
		Token:      token,
		Username:   username,
		Password:   password,
		HeaderName: headerName,
		HeaderVal:  headerVal,
	}, nil
}

func envMap() map[string]any {
	out := map[string]any{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}
