// Package credentials loads upstream API keys from a credentials.toml kept
// apart from the main configuration file.
//
// The file holds one section per provider:
//
//	[llm]
//	api_key = "fallback for any generation provider"
//
//	[anthropic]
//	api_key = "sk-ant-..."
//
//	[pinecone]
//	api_key = "pc-..."
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when the credentials file is readable
// or writable by anyone other than its owner.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// fallbackSection is consulted for generation and embedding providers that
// have no section of their own.
const fallbackSection = "llm"

// Credentials holds API keys keyed by provider section.
type Credentials struct {
	keys map[string]string
}

// StandardPaths returns the credential file locations in order of priority.
func StandardPaths() []string {
	paths := []string{"credentials.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "skillsynth", "credentials.toml"))
	}
	return paths
}

// Load loads credentials from the first available standard location.
// A missing file is not an error; it yields nil credentials and an empty path.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil
}

// LoadFile loads credentials from a specific file.
// Returns ErrInsecurePermissions unless the file mode is 0400.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if mode := info.Mode().Perm(); mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	creds := &Credentials{keys: make(map[string]string)}
	for section, value := range raw {
		table, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		if key, _ := table["api_key"].(string); key != "" {
			creds.keys[normalize(section)] = key
		}
	}
	return creds, nil
}

// GetAPIKey returns the API key for a provider.
// Priority: [provider] section > [llm] section (model providers only) >
// the provider's environment variable.
func (c *Credentials) GetAPIKey(provider string) string {
	name := normalize(provider)
	if c != nil {
		if key := c.keys[name]; key != "" {
			return key
		}
		if name != "pinecone" {
			if key := c.keys[fallbackSection]; key != "" {
				return key
			}
		}
	}
	return os.Getenv(EnvVar(provider))
}

// EnvVar returns the environment variable consulted for a provider.
func EnvVar(provider string) string {
	switch normalize(provider) {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google", "gemini":
		return "GOOGLE_API_KEY"
	case "pinecone":
		return "PINECONE_API_KEY"
	case "ollama":
		return "OLLAMA_API_KEY"
	default:
		return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
	}
}

func normalize(provider string) string {
	return strings.ToLower(strings.ReplaceAll(provider, "-", ""))
}
