package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"

	"github.com/a8m/envsubst"
	"github.com/edaniels/golog"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/diffdrive/components/base/diffdrive"
	"go.viam.com/diffdrive/components/motor/fake"
	"go.viam.com/diffdrive/components/motor/roboclaw"
	"go.viam.com/diffdrive/logging"
	"go.viam.com/diffdrive/resource"
	"go.viam.com/diffdrive/transport/mqtt"
)

// AttributeMap is a section of the config as decoded from JSON.
type AttributeMap map[string]interface{}

// rawConfig is the file layout before each section is decoded over its defaults.
type rawConfig struct {
	Base     AttributeMap `json:"base"`
	Roboclaw AttributeMap `json:"roboclaw"`
	Fake     AttributeMap `json:"fake"`
	MQTT     AttributeMap `json:"mqtt"`
	Trail    AttributeMap `json:"trail"`
	Log      AttributeMap `json:"log"`
}

// Read reads a config from the given file, expanding environment variables first.
func Read(
	ctx context.Context,
	filePath string,
	logger golog.Logger,
) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %q", filePath)
	}

	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
func FromReader(
	ctx context.Context,
	originalPath string,
	r io.Reader,
	logger golog.Logger,
) (*Config, error) {
	var raw rawConfig
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := &Config{
		ConfigFilePath: originalPath,
		Base:           diffdrive.DefaultConfig(),
		Log:            logging.DefaultConfig(),
	}
	if raw.Base == nil {
		return nil, resource.NewConfigValidationFieldRequiredError("", "base")
	}
	if err := decodeSection("base", raw.Base, &cfg.Base, logger); err != nil {
		return nil, err
	}
	if raw.Roboclaw != nil {
		rc := roboclaw.DefaultConfig()
		if err := decodeSection("roboclaw", raw.Roboclaw, &rc, logger); err != nil {
			return nil, err
		}
		cfg.Roboclaw = &rc
	}
	if raw.Fake != nil {
		fc := fake.DefaultConfig()
		if err := decodeSection("fake", raw.Fake, &fc, logger); err != nil {
			return nil, err
		}
		cfg.Fake = &fc
	}
	if raw.MQTT != nil {
		mc := mqtt.DefaultConfig()
		if err := decodeSection("mqtt", raw.MQTT, &mc, logger); err != nil {
			return nil, err
		}
		cfg.MQTT = &mc
	}
	if err := decodeSection("trail", raw.Trail, &cfg.Trail, logger); err != nil {
		return nil, err
	}
	if err := decodeSection("log", raw.Log, &cfg.Log, logger); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeSection decodes attributes over the defaults already in out. Fields
// absent from attributes keep their defaults; unknown keys are logged and ignored.
func decodeSection(path string, attributes AttributeMap, out interface{}, logger golog.Logger) error {
	if attributes == nil {
		return nil
	}
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Result:   out,
		Metadata: &md,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(attributes)); err != nil {
		return resource.NewConfigValidationError(path, err)
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		logger.Warnw("ignoring unknown config attributes", "section", path, "attributes", md.Unused)
	}
	return nil
}
