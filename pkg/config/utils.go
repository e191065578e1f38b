package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

// initConfig decodes file into target, picking the format by file suffix.
func initConfig(file *os.File, target any) error {
	name := file.Name()
	switch {
	case strings.HasSuffix(name, ".toml"):
		_, err := toml.NewDecoder(file).Decode(target)
		return err
	case strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
		return yaml.NewDecoder(file).Decode(target)
	case strings.HasSuffix(name, ".json"):
		return json.NewDecoder(file).Decode(target)
	}
	return fmt.Errorf("unknown config format type: %s. Use .toml, .yaml or .json suffix in filename", name)
}

func boolPtr(b bool) *bool {
	return &b
}
