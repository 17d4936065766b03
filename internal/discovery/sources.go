// Package discovery scans the process environment for API keys that could be
// imported into the wallet. Scan results carry masked previews only; the raw
// value is re-read from the environment at import time so a plaintext secret
// never sits in a scan response.
package discovery

// Source defines one service whose keys we know how to find in the
// environment.
type Source struct {
	Name        string   // service name as registered in the service registry
	Description string
	EnvVars     []string // environment variables that may carry a key
}

// Sources lists the well-known places API keys end up in an environment.
var Sources = []Source{
	{
		Name:        "stripe",
		Description: "Stripe payment API",
		EnvVars:     []string{"STRIPE_SECRET_KEY", "STRIPE_API_KEY"},
	},
	{
		Name:        "openweather",
		Description: "OpenWeather data API",
		EnvVars:     []string{"OPENWEATHER_API_KEY", "OWM_API_KEY"},
	},
	{
		Name:        "googlemaps",
		Description: "Google Maps platform",
		EnvVars:     []string{"GOOGLE_MAPS_API_KEY", "MAPS_API_KEY"},
	},
	{
		Name:        "openai",
		Description: "OpenAI API",
		EnvVars:     []string{"OPENAI_API_KEY"},
	},
	{
		Name:        "github",
		Description: "GitHub API",
		EnvVars:     []string{"GITHUB_TOKEN", "GH_TOKEN"},
	},
	{
		Name:        "slack",
		Description: "Slack API",
		EnvVars:     []string{"SLACK_BOT_TOKEN", "SLACK_API_TOKEN"},
	},
}
