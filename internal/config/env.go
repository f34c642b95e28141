package config

import (
	"fmt"
	"strconv"
)

// Env holds process settings taken from the environment (or .env).
type Env struct {
	Platform      string
	TelegramToken string
	GatewayURL    string
	GatewayToken  string
	SafeChats     string
	NameMap       string
	DBPath        string
	ConfigDir     string
	APIPort       int
	Debug         bool
}

// EnvFrom reads Env through getenv, usually os.Getenv.
func EnvFrom(getenv func(string) string) (Env, error) {
	env := Env{
		Platform:      getenv("PLATFORM"),
		TelegramToken: getenv("TELEGRAM_BOT_TOKEN"),
		GatewayURL:    getenv("GATEWAY_URL"),
		GatewayToken:  getenv("GATEWAY_TOKEN"),
		SafeChats:     getenv("SAFE_CHATS"),
		NameMap:       getenv("NAME_MAP"),
		DBPath:        getenv("DB_PATH"),
		ConfigDir:     getenv("CONFIG_DIR"),
		Debug:         getenv("DEBUG") == "true",
	}
	if env.Platform == "" {
		env.Platform = "telegram"
	}
	if env.DBPath == "" {
		env.DBPath = "fondbot.db"
	}
	if env.ConfigDir == "" {
		env.ConfigDir = "./configs"
	}
	if port := getenv("API_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return Env{}, fmt.Errorf("invalid API_PORT %q: %w", port, err)
		}
		env.APIPort = p
	}

	switch env.Platform {
	case "telegram":
		if env.TelegramToken == "" {
			return Env{}, fmt.Errorf("TELEGRAM_BOT_TOKEN must be set for the telegram platform")
		}
	case "gateway":
		if env.GatewayURL == "" || env.GatewayToken == "" {
			return Env{}, fmt.Errorf("GATEWAY_URL and GATEWAY_TOKEN must be set for the gateway platform")
		}
	default:
		return Env{}, fmt.Errorf("unknown PLATFORM %q", env.Platform)
	}
	return env, nil
}
