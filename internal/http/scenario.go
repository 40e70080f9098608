package http

import (
	"fmt"

	"github.com/wesleyorama2/loadcheck/internal/performance/config"
)

// LoadScenario reads the scenario at path, applies variable overrides and
// compiles the plan and its HTTP workload. The client's connection pool is
// sized to the plan's maximum concurrency.
func LoadScenario(path string, overrides map[string]string, insecure bool, options ...ClientOption) (*config.Plan, *Workload, error) {
	decl, err := config.LoadDeclaration(path)
	if err != nil {
		return nil, nil, err
	}
	if len(overrides) > 0 {
		if decl.Variables == nil {
			decl.Variables = make(map[string]string, len(overrides))
		}
		for k, v := range overrides {
			decl.Variables[k] = v
		}
	}

	plan, err := config.BuildPlan(decl)
	if err != nil {
		return nil, nil, &config.ConfigError{Source: path, Err: err}
	}
	if decl.Request == nil {
		return nil, nil, &config.ConfigError{Source: path, Err: fmt.Errorf("request: is required")}
	}

	_, maxVUs := plan.PoolBounds()
	cfg := DefaultClientConfig()
	cfg.MaxIdleConns = max(cfg.MaxIdleConns, maxVUs)
	cfg.MaxIdleConnsPerHost = max(cfg.MaxIdleConnsPerHost, maxVUs)
	cfg.InsecureSkipVerify = insecure

	workload, err := NewWorkload(decl.Request, decl.Variables, NewClient(cfg, options...))
	if err != nil {
		return nil, nil, &config.ConfigError{Source: path, Err: err}
	}
	return plan, workload, nil
}
