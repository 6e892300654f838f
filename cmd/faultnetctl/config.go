package main

import (
	"encoding/json"
	"fmt"
	"os"

	api "faultnet/pkg/faultnet"
)

func loadRunRequestFromConfig(path string) (api.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.RunRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return api.RunRequest{}, err
	}

	var req api.RunRequest
	if v, ok := asString(raw["dataset"]); ok {
		req.Dataset = v
	}
	if v, ok, err := asSizes(raw["hidden"]); err != nil {
		return api.RunRequest{}, fmt.Errorf("hidden: %w", err)
	} else if ok {
		req.Hidden = v
	}
	if v, ok := asString(raw["activation"]); ok {
		req.Activation = v
	}
	if v, ok := asString(raw["loss"]); ok {
		req.Loss = v
	}
	if v, ok := asString(raw["strategy"]); ok {
		req.Strategy = v
	}
	if v, ok := asFloat64(raw["threshold"]); ok {
		req.Threshold = v
	}
	if v, ok := asInt(raw["remap_start"]); ok {
		req.RemapStart = v
	}
	if v, ok := asInt(raw["remap_period"]); ok {
		req.RemapPeriod = v
	}
	if v, ok := asString(raw["prune_orders"]); ok {
		req.PruneOrders = v
	}
	if v, ok := asInt(raw["iterations"]); ok {
		req.Iterations = v
	}
	if v, ok := asInt(raw["batch_size"]); ok {
		req.BatchSize = v
	}

	if solverRaw, ok := raw["solver"].(map[string]any); ok {
		if v, ok := asString(solverRaw["lr_policy"]); ok {
			req.LRPolicy = v
		}
		if v, ok := asFloat64(solverRaw["base_lr"]); ok {
			req.BaseLR = v
		}
		if v, ok := asFloat64(solverRaw["gamma"]); ok {
			req.Gamma = v
		}
		if v, ok := asFloat64(solverRaw["power"]); ok {
			req.Power = v
		}
		if v, ok := asInt(solverRaw["step_size"]); ok {
			req.StepSize = v
		}
		if v, ok := asFloat64(solverRaw["momentum"]); ok {
			req.Momentum = v
		}
		if v, ok := asFloat64(solverRaw["weight_decay"]); ok {
			req.WeightDecay = v
		}
	}

	if faultsRaw, ok := raw["faults"].(map[string]any); ok {
		req.Faults = true
		if v, ok := asBool(faultsRaw["enabled"]); ok {
			req.Faults = v
		}
		if v, ok := asFloat64(faultsRaw["weibull_shape"]); ok {
			req.WeibullShape = v
		}
		if v, ok := asFloat64(faultsRaw["weibull_scale"]); ok {
			req.WeibullScale = v
		}
		if v, ok := asFloat64(faultsRaw["stuck_at_zero_fraction"]); ok {
			req.StuckAtZeroFraction = &v
		}
	} else if v, ok := asBool(raw["faults"]); ok {
		req.Faults = v
	}

	if v, ok := asUint64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["log_every"]); ok {
		req.LogEvery = v
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case int:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	case float64:
		if x < 0 {
			return 0, false
		}
		return uint64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

// asSizes accepts either a JSON array of layer sizes or a comma-separated
// string.
func asSizes(v any) ([]int, bool, error) {
	switch x := v.(type) {
	case nil:
		return nil, false, nil
	case string:
		sizes, err := parseSizes(x)
		if err != nil {
			return nil, false, err
		}
		return sizes, true, nil
	case []any:
		sizes := make([]int, 0, len(x))
		for i, item := range x {
			n, ok := asInt(item)
			if !ok {
				return nil, false, fmt.Errorf("layer %d is not a number", i)
			}
			sizes = append(sizes, n)
		}
		return sizes, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported layer sizes type %T", v)
	}
}

func overrideFromFlags(req *api.RunRequest, set map[string]bool, flagValue map[string]any) error {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "dataset":
			req.Dataset = v.(string)
		case "hidden":
			sizes, err := parseSizes(v.(string))
			if err != nil {
				return fmt.Errorf("hidden: %w", err)
			}
			req.Hidden = sizes
		case "activation":
			req.Activation = v.(string)
		case "loss":
			req.Loss = v.(string)
		case "strategy":
			req.Strategy = v.(string)
		case "threshold":
			req.Threshold = v.(float64)
		case "remap-start":
			req.RemapStart = v.(int)
		case "remap-period":
			req.RemapPeriod = v.(int)
		case "prune-orders":
			req.PruneOrders = v.(string)
		case "iterations":
			req.Iterations = v.(int)
		case "batch-size":
			req.BatchSize = v.(int)
		case "lr-policy":
			req.LRPolicy = v.(string)
		case "base-lr":
			req.BaseLR = v.(float64)
		case "gamma":
			req.Gamma = v.(float64)
		case "power":
			req.Power = v.(float64)
		case "step-size":
			req.StepSize = v.(int)
		case "momentum":
			req.Momentum = v.(float64)
		case "weight-decay":
			req.WeightDecay = v.(float64)
		case "faults":
			req.Faults = v.(bool)
		case "weibull-shape":
			req.WeibullShape = v.(float64)
		case "weibull-scale":
			req.WeibullScale = v.(float64)
		case "stuck-at-zero":
			fraction := v.(float64)
			req.StuckAtZeroFraction = &fraction
		case "seed":
			req.Seed = v.(uint64)
		case "log-every":
			req.LogEvery = v.(int)
		default:
			return fmt.Errorf("unsupported override flag: %s", name)
		}
	}
	return nil
}

func loadOrDefaultRunRequest(configPath string) (api.RunRequest, error) {
	if configPath == "" {
		return api.RunRequest{}, nil
	}
	req, err := loadRunRequestFromConfig(configPath)
	if err != nil {
		return api.RunRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}
