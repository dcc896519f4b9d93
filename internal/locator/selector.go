// Package locator resolves page elements from ordered lists of selectors.
package locator

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy identifies how a Selector finds elements.
type Strategy int

const (
	// ByXPath matches elements present in the document, visible or not.
	ByXPath Strategy = iota
	// ByAttribute matches elements of a CSS expression whose attribute contains a value.
	ByAttribute
	// ByText matches visible elements of a CSS expression whose text contains a value.
	ByText
	// ByCSS matches visible elements of a CSS expression.
	ByCSS
)

func (s Strategy) String() string {
	switch s {
	case ByXPath:
		return "xpath"
	case ByAttribute:
		return "attribute"
	case ByText:
		return "text"
	case ByCSS:
		return "css"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Selector is one lookup strategy with its arguments. The zero value is invalid; build
// selectors with XPath, Attribute, Text, CSS or FromSpec.
type Selector struct {
	strategy Strategy
	expr     string
	name     string
	value    string
}

func XPath(expr string) Selector { return Selector{strategy: ByXPath, expr: expr} }

func Attribute(css, name, value string) Selector {
	return Selector{strategy: ByAttribute, expr: css, name: name, value: value}
}

func Text(css, text string) Selector { return Selector{strategy: ByText, expr: css, value: text} }

func CSS(expr string) Selector { return Selector{strategy: ByCSS, expr: expr} }

// Label matches elements whose aria-label contains label.
func Label(css, label string) Selector { return Attribute(css, "aria-label", label) }

func (s Selector) Strategy() Strategy { return s.strategy }

// Expr is the XPath or CSS expression.
func (s Selector) Expr() string { return s.expr }

func (s Selector) String() string {
	switch s.strategy {
	case ByAttribute:
		return fmt.Sprintf("attribute(%s[%s*=%q])", s.expr, s.name, s.value)
	case ByText:
		return fmt.Sprintf("text(%s ~ %q)", s.expr, s.value)
	default:
		return fmt.Sprintf("%s(%s)", s.strategy, s.expr)
	}
}

// Spec is the declarative form of a selector used in configuration files. Several fields may
// be set; FromSpec picks one strategy by precedence xpath, then css with attr, then css with
// text, then css alone.
type Spec struct {
	CSS   string `mapstructure:"css" yaml:"css,omitempty"`
	XPath string `mapstructure:"xpath" yaml:"xpath,omitempty"`
	Text  string `mapstructure:"text" yaml:"text,omitempty"`
	Attr  string `mapstructure:"attr" yaml:"attr,omitempty"`
	Value string `mapstructure:"value" yaml:"value,omitempty"`
}

var ErrEmptySpec = errors.New("selector spec needs an xpath or css expression")

// FromSpec compiles a Spec into a Selector.
func FromSpec(s Spec) (Selector, error) {
	switch {
	case strings.TrimSpace(s.XPath) != "":
		return XPath(s.XPath), nil
	case s.CSS == "":
		return Selector{}, ErrEmptySpec
	case s.Attr != "":
		return Attribute(s.CSS, s.Attr, s.Value), nil
	case s.Text != "":
		return Text(s.CSS, s.Text), nil
	default:
		return CSS(s.CSS), nil
	}
}

// FromSpecs compiles every spec, failing on the first invalid one.
func FromSpecs(specs []Spec) ([]Selector, error) {
	out := make([]Selector, 0, len(specs))
	for i, s := range specs {
		sel, err := FromSpec(s)
		if err != nil {
			return nil, fmt.Errorf("selector %d: %w", i, err)
		}
		out = append(out, sel)
	}
	return out, nil
}
