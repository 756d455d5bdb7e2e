package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	maxPerResult        = 50
	maxContextPeekBytes = 64 << 10
)

// Request quality values that count as high quality for pricing.
var highQualityValues = map[string]bool{
	"high":        true,
	"deep-review": true,
	"enhanced":    true,
}

// contextFields are the request fields that influence pricing and usage
// rollups. JSON bodies override query parameters.
type contextFields struct {
	DeepSearch *bool   `json:"deep_search"`
	Limit      *int    `json:"limit"`
	Quality    *string `json:"quality"`
	Origin     *string `json:"origin"`
	Feature    *string `json:"feature"`
	Provider   *string `json:"provider"`
	Model      *string `json:"model"`
}

// ParseRequestContext extracts the operation context of a metered request.
// The body is restored so the handler can read it again.
func ParseRequestContext(r *http.Request) map[string]any {
	out := map[string]any{}

	q := r.URL.Query()
	if v := q.Get("deep_search"); v != "" {
		b, _ := strconv.ParseBool(v)
		setDeepSearch(out, b)
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			setPerResult(out, n)
		}
	}
	if v := q.Get("quality"); v != "" {
		setQuality(out, v)
	}
	for _, key := range []string{"origin", "feature", "provider", "model"} {
		if v := q.Get(key); v != "" {
			out[key] = v
		}
	}

	if f, ok := peekJSONBody(r); ok {
		if f.DeepSearch != nil {
			setDeepSearch(out, *f.DeepSearch)
		}
		if f.Limit != nil {
			setPerResult(out, *f.Limit)
		}
		if f.Quality != nil && *f.Quality != "" {
			setQuality(out, *f.Quality)
		}
		for key, v := range map[string]*string{"origin": f.Origin, "feature": f.Feature, "provider": f.Provider, "model": f.Model} {
			if v != nil && *v != "" {
				out[key] = *v
			}
		}
	}

	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		out["idempotency_key"] = key
	}
	return out
}

func setDeepSearch(out map[string]any, v bool) {
	if v {
		out["deep_search"] = true
	} else {
		delete(out, "deep_search")
	}
}

func setPerResult(out map[string]any, n int) {
	if n > 0 {
		out["per_result"] = min(n, maxPerResult)
	}
}

func setQuality(out map[string]any, q string) {
	q = strings.ToLower(strings.TrimSpace(q))
	out["quality"] = q
	if highQualityValues[q] {
		out["high_quality"] = true
	} else {
		delete(out, "high_quality")
	}
}

func peekJSONBody(r *http.Request) (contextFields, bool) {
	var f contextFields
	if r.Body == nil || r.Method == http.MethodGet {
		return f, false
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return f, false
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxContextPeekBytes))
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(data), rest), rest}
	if err != nil || len(data) == 0 {
		return f, false
	}

	if err := json.Unmarshal(data, &f); err != nil {
		return f, false
	}
	return f, true
}

// mergeContext overlays extra entries onto base. Neither map is modified.
func mergeContext(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra)+2)
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
