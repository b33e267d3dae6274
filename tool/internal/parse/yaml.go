// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package parse

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
)

type yamlDocument struct {
	Name         string     `yaml:"name"`
	Version      string     `yaml:"version"`
	Enabled      *bool      `yaml:"enabled"`
	MetricPrefix string     `yaml:"metric_prefix"`
	Pointcuts    []Pointcut `yaml:"pointcuts"`
}

// YAML parses the YAML rendition of a directive document:
//
//	name: checkout
//	metric_prefix: Custom
//	pointcuts:
//	  - class_name: shop.Cart
//	    methods:
//	      - name: Checkout
//	        parameters: [context.Context, string]
func YAML(payload []byte) (*Document, error) {
	doc := newDocument()
	if len(bytes.TrimSpace(payload)) == 0 {
		return doc, nil
	}
	raw := yamlDocument{}
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, ex.Wrapf(err, "malformed directive document")
	}
	doc.Name = raw.Name
	doc.Version = raw.Version
	if raw.Enabled != nil {
		doc.Enabled = *raw.Enabled
	}
	if raw.MetricPrefix != "" {
		doc.MetricPrefix = raw.MetricPrefix
	}
	doc.checkVersion()
	if !doc.Enabled {
		return doc, nil
	}
	doc.add(raw.Pointcuts)
	return doc, nil
}

// Pointcuts validates pointcuts that were decoded as part of another YAML
// document, such as the agent configuration.
func Pointcuts(metricPrefix string, pointcuts []Pointcut) *Document {
	doc := newDocument()
	if metricPrefix != "" {
		doc.MetricPrefix = metricPrefix
	}
	doc.add(pointcuts)
	return doc
}

// Payload picks the dialect by looking at the first meaningful byte.
func Payload(payload []byte) (*Document, error) {
	if strings.HasPrefix(string(bytes.TrimSpace(payload)), "<") {
		return XML(payload)
	}
	return YAML(payload)
}
