package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/zachbroad/webhook-dispatch/internal/model"
	"gopkg.in/yaml.v3"
)

// destinationFile is the on-disk form of one or more destinations.
//
//	destinations:
//	  - name: ops alerts
//	    integration_type: slack
//	    url: https://hooks.slack.com/services/T000/B000/XXXX
//	    event_types: ["document.*"]
//	    settings:
//	      channel: "#ops"
type destinationFile struct {
	Destinations []destinationDoc `yaml:"destinations"`
}

type destinationDoc struct {
	model.Destination `yaml:",inline"`
	Settings          map[string]any `yaml:"settings,omitempty"`
	PayloadTemplate   map[string]any `yaml:"payload_template,omitempty"`
}

func (d destinationDoc) destination() (*model.Destination, error) {
	dest := d.Destination
	if dest.ID == uuid.Nil {
		dest.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("dispatchctl:"+dest.Name))
	}
	if dest.OrgID == "" {
		dest.OrgID = "local"
	}
	if dest.IntegrationType == "" {
		dest.IntegrationType = model.IntegrationCustomWebhook
	}
	if dest.AuthType == "" {
		dest.AuthType = model.AuthNone
	}
	if dest.TimeoutSeconds == 0 {
		dest.TimeoutSeconds = 30
	}
	if d.Settings != nil {
		raw, err := json.Marshal(d.Settings)
		if err != nil {
			return nil, fmt.Errorf("encode settings for %q: %w", dest.Name, err)
		}
		dest.Settings = raw
	}
	if d.PayloadTemplate != nil {
		raw, err := json.Marshal(d.PayloadTemplate)
		if err != nil {
			return nil, fmt.Errorf("encode payload template for %q: %w", dest.Name, err)
		}
		dest.PayloadTemplate = raw
	}
	dest.IsActive = true
	return &dest, nil
}

func loadDestinations(path string) ([]*model.Destination, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read destinations: %w", err)
	}
	var file destinationFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse destinations: %w", err)
	}
	if len(file.Destinations) == 0 {
		return nil, fmt.Errorf("%s: no destinations", path)
	}
	dests := make([]*model.Destination, 0, len(file.Destinations))
	for _, doc := range file.Destinations {
		d, err := doc.destination()
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return dests, nil
}
