// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package parse

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/open-telemetry/opentelemetry-go-live-instrumentation/tool/ex"
)

const (
	elemExtension       = "extension"
	elemInstrumentation = "instrumentation"
	elemPointcut        = "pointcut"
	elemClassName       = "className"
	elemInterfaceName   = "interfaceName"
	elemAnnotation      = "methodAnnotation"
	elemMethod          = "method"
	elemName            = "name"
	elemParameters      = "parameters"
	elemType            = "type"
	elemReturnType      = "returnType"
)

var doctypeMarkers = [][]byte{[]byte("<!DOCTYPE"), []byte("<!ENTITY")}

// XML parses a directive document in the extension dialect. Whitespace-only
// payloads yield an empty document. Any structural defect rejects the whole
// document, a semantically invalid pointcut only becomes a Problem.
func XML(payload []byte) (*Document, error) {
	doc := newDocument()
	if len(bytes.TrimSpace(payload)) == 0 {
		return doc, nil
	}
	upper := bytes.ToUpper(payload)
	for _, marker := range doctypeMarkers {
		if bytes.Contains(upper, marker) {
			return nil, ex.New("DOCTYPE is disallowed")
		}
	}
	top, err := xmlquery.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, ex.Wrapf(err, "malformed directive document")
	}
	var root *xmlquery.Node
	for n := top.FirstChild; n != nil; n = n.NextSibling {
		switch n.Type {
		case xmlquery.NotationNode:
			return nil, ex.New("DOCTYPE is disallowed")
		case xmlquery.ElementNode:
			if root != nil {
				return nil, ex.Newf("malformed directive document: more than one root element")
			}
			root = n
		}
	}
	if root.Data != elemExtension {
		return nil, ex.Newf("malformed directive document: root element is <%s>, expected <%s>",
			root.Data, elemExtension)
	}
	if err = checkNamespace(root, root.NamespaceURI); err != nil {
		return nil, err
	}

	doc.Name = root.SelectAttr("name")
	doc.Version = root.SelectAttr("version")
	if doc.Enabled, err = boolAttr(root, "enabled", true); err != nil {
		return nil, ex.Wrapf(err, "malformed directive document")
	}
	doc.checkVersion()
	if !doc.Enabled {
		return doc, nil
	}
	for _, inst := range children(root, elemInstrumentation) {
		if prefix := strings.TrimSpace(inst.SelectAttr("metricPrefix")); prefix != "" {
			doc.MetricPrefix = prefix
		}
		pointcuts := make([]Pointcut, 0)
		for _, pc := range children(inst, elemPointcut) {
			pointcuts = append(pointcuts, readPointcut(pc))
		}
		doc.add(pointcuts)
	}
	return doc, nil
}

func checkNamespace(n *xmlquery.Node, ns string) error {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.NotationNode:
			return ex.New("DOCTYPE is disallowed")
		case xmlquery.ElementNode:
			if c.NamespaceURI != ns {
				return ex.Newf("malformed directive document: element <%s> is outside namespace %q",
					c.Data, ns)
			}
			if err := checkNamespace(c, ns); err != nil {
				return err
			}
		}
	}
	return nil
}

func children(n *xmlquery.Node, name string) []*xmlquery.Node {
	nodes := make([]*xmlquery.Node, 0)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == name {
			nodes = append(nodes, c)
		}
	}
	return nodes
}

func child(n *xmlquery.Node, name string) *xmlquery.Node {
	if nodes := children(n, name); len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

func text(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.InnerText())
}

func boolAttr(n *xmlquery.Node, name string, def bool) (bool, error) {
	raw := strings.TrimSpace(n.SelectAttr(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, ex.Newf("invalid value %q for attribute %s", raw, name)
	}
	return v, nil
}

func readPointcut(n *xmlquery.Node) Pointcut {
	p := Pointcut{
		Name:             n.SelectAttr("name"),
		ClassName:        text(child(n, elemClassName)),
		InterfaceName:    text(child(n, elemInterfaceName)),
		MethodAnnotation: text(child(n, elemAnnotation)),
		MetricNameFormat: strings.TrimSpace(n.SelectAttr("metricNameFormat")),
	}
	flag := func(node *xmlquery.Node, attr string, def bool) bool {
		v, err := boolAttr(node, attr, def)
		if err != nil {
			p.invalid = append(p.invalid, err.Error())
		}
		return v
	}
	if cls := child(n, elemClassName); cls != nil {
		p.IncludeSubclasses = flag(cls, "includeSubclasses", false)
	}
	p.TransactionStart = flag(n, "transactionStartPoint", false)
	p.ExcludeFromTrace = flag(n, "excludeFromTransactionTrace", false)
	p.IgnoreTransaction = flag(n, "ignoreTransaction", false)
	enabled := flag(n, "enabled", true)
	p.Enabled = &enabled

	for _, m := range children(n, elemMethod) {
		method := Method{
			Name:       text(child(m, elemName)),
			ReturnType: text(child(m, elemReturnType)),
		}
		if params := child(m, elemParameters); params != nil {
			method.Parameters = make([]string, 0)
			for _, t := range children(params, elemType) {
				method.Parameters = append(method.Parameters, text(t))
			}
		}
		p.Methods = append(p.Methods, method)
	}
	return p
}
