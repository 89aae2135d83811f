package location

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"travelflow-backend/models"

	"go.uber.org/zap"
)

type restCountry struct {
	Currencies map[string]struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"currencies"`
	Languages map[string]string `json:"languages"`
}

// CountryInfo looks up the currency and main language of an ISO 3166
// country code. It returns nil when the country has no currency listed.
func (c *Client) CountryInfo(ctx context.Context, countryCode string) (*models.CountryInfo, error) {
	code := strings.TrimSpace(countryCode)
	if code == "" {
		return nil, nil
	}

	var countries []restCountry
	endpoint := c.endpoints.Countries + "/" + url.PathEscape(code)
	if err := c.getJSON(ctx, c.geocodeTimeout, endpoint, &countries); err != nil {
		return nil, fmt.Errorf("restcountries lookup: %w", err)
	}
	if len(countries) == 0 || len(countries[0].Currencies) == 0 {
		return nil, nil
	}

	country := countries[0]
	currencyCode := firstKey(country.Currencies)
	info := &models.CountryInfo{
		CurrencyCode:   currencyCode,
		CurrencySymbol: country.Currencies[currencyCode].Symbol,
	}
	if info.CurrencySymbol == "" {
		info.CurrencySymbol = "$"
	}
	if len(country.Languages) > 0 {
		info.LangName = country.Languages[firstKey(country.Languages)]
	}
	return info, nil
}

type ratesResponse struct {
	Rates map[string]float64 `json:"rates"`
}

// ExchangeRate returns how many units of to one unit of from buys. Any
// failure yields 1 so callers can keep displaying amounts.
func (c *Client) ExchangeRate(ctx context.Context, from, to string) float64 {
	from, to = strings.ToUpper(strings.TrimSpace(from)), strings.ToUpper(strings.TrimSpace(to))
	if from == "" || to == "" || from == to {
		return 1
	}

	var resp ratesResponse
	if err := c.getJSON(ctx, c.weatherTimeout, c.endpoints.Rates+"/"+url.PathEscape(from), &resp); err != nil {
		zap.L().Warn("Exchange rate lookup failed", zap.String("from", from), zap.String("to", to), zap.Error(err))
		return 1
	}
	rate, ok := resp.Rates[to]
	if !ok || rate <= 0 {
		return 1
	}
	return rate
}

// firstKey picks the alphabetically first key so results do not depend on
// map iteration order.
func firstKey[V any](m map[string]V) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys[0]
}
