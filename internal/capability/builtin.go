package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// argString pulls a required string argument out of an argument map.
func argString(args map[string]interface{}, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string, got %T", key, raw)
	}
	if s == "" {
		return "", fmt.Errorf("argument %q is empty", key)
	}
	return s, nil
}

// WeatherHandler answers weather lookups through the wttr.in JSON API.
type WeatherHandler struct {
	baseURL    string
	httpClient *http.Client
}

// NewWeatherHandler creates the builtin weather capability.
func NewWeatherHandler() *WeatherHandler {
	return &WeatherHandler{
		baseURL:    "https://wttr.in",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Invoke implements Handler.
func (h *WeatherHandler) Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	location, err := argString(args, "location")
	if err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/%s?format=j1", h.baseURL, url.PathEscape(location))
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather service returned status %d", resp.StatusCode)
	}

	var payload struct {
		CurrentCondition []struct {
			TempC       string `json:"temp_C"`
			FeelsLikeC  string `json:"FeelsLikeC"`
			Humidity    string `json:"humidity"`
			WeatherDesc []struct {
				Value string `json:"value"`
			} `json:"weatherDesc"`
		} `json:"current_condition"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode weather response: %w", err)
	}
	if len(payload.CurrentCondition) == 0 {
		return nil, fmt.Errorf("no weather data for %q", location)
	}

	cur := payload.CurrentCondition[0]
	desc := ""
	if len(cur.WeatherDesc) > 0 {
		desc = cur.WeatherDesc[0].Value
	}

	return map[string]interface{}{
		"location":     location,
		"temperature":  cur.TempC + "°C",
		"feels_like":   cur.FeelsLikeC + "°C",
		"humidity":     cur.Humidity + "%",
		"conditions":   desc,
		"retrieved_at": time.Now().Format(time.RFC3339),
	}, nil
}

// SearchHandler answers web searches through the DuckDuckGo instant
// answer API.
type SearchHandler struct {
	baseURL    string
	httpClient *http.Client
}

// NewSearchHandler creates the builtin web search capability.
func NewSearchHandler() *SearchHandler {
	return &SearchHandler{
		baseURL:    "https://api.duckduckgo.com",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Invoke implements Handler.
func (h *SearchHandler) Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, err := argString(args, "query")
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")

	req, err := http.NewRequestWithContext(ctx, "GET", h.baseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search service returned status %d", resp.StatusCode)
	}

	var payload struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]map[string]string, 0, 4)
	if payload.AbstractText != "" {
		results = append(results, map[string]string{
			"snippet": payload.AbstractText,
			"url":     payload.AbstractURL,
		})
	}
	for _, topic := range payload.RelatedTopics {
		if topic.Text == "" {
			continue
		}
		results = append(results, map[string]string{
			"snippet": topic.Text,
			"url":     topic.FirstURL,
		})
		if len(results) >= 4 {
			break
		}
	}

	return map[string]interface{}{
		"query":   query,
		"results": results,
	}, nil
}

// NewDatetimeHandler returns the builtin current-time capability.
func NewDatetimeHandler(now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return HandlerFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		t := now()
		return map[string]interface{}{
			"datetime": t.Format(time.RFC3339),
			"date":     t.Format("Monday, January 2, 2006"),
			"time":     t.Format("15:04"),
		}, nil
	})
}

// NewPersonalVarHandler returns the user-scoped personal variable
// capability. A "value" argument stores; its absence reads.
func NewPersonalVarHandler(store *BadgerPersonalStore) Handler {
	return HandlerFunc(func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		userID, err := argString(args, UserIDArg)
		if err != nil {
			return nil, fmt.Errorf("personal_var requires a user identity: %w", err)
		}
		key, err := argString(args, "key")
		if err != nil {
			return nil, err
		}

		if raw, ok := args["value"]; ok {
			value, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("argument \"value\" must be a string, got %T", raw)
			}
			if err := store.Set(ctx, userID, key, value); err != nil {
				return nil, fmt.Errorf("failed to store variable: %w", err)
			}
			return map[string]interface{}{"key": key, "value": value, "stored": true}, nil
		}

		v, found, err := store.Get(ctx, userID, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read variable: %w", err)
		}
		if !found {
			return nil, fmt.Errorf("no stored value for %q", key)
		}
		return map[string]interface{}{"key": v.Key, "value": v.Value}, nil
	})
}
