package cmc

import "github.com/tidwall/gjson"

const genericProviderMessage = "Failed to fetch data from market-data provider"

// validateListings returns a reason when the body is not a listings envelope, or "".
func validateListings(body []byte) string {
	if !gjson.ValidBytes(body) {
		return "body is not valid JSON"
	}
	data := gjson.GetBytes(body, "data")
	if !data.Exists() {
		return "missing data field"
	}
	if !data.IsArray() {
		return "data field is not an array"
	}
	return ""
}

// validateGlobalMetrics returns a reason when data.quote.USD is not an object, or "".
func validateGlobalMetrics(body []byte) string {
	if !gjson.ValidBytes(body) {
		return "body is not valid JSON"
	}
	if !gjson.GetBytes(body, "data").IsObject() {
		return "data field is not an object"
	}
	if !gjson.GetBytes(body, "data.quote.USD").IsObject() {
		return "data.quote.USD is not an object"
	}
	return ""
}

// providerErrorMessage extracts status.error_message from a provider error envelope.
func providerErrorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "status.error_message"); msg.Type == gjson.String && msg.Str != "" {
			return msg.Str
		}
	}
	return genericProviderMessage
}
