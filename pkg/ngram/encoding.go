package ngram

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Encoding derives one letter per axis point from the ordered dependent values.
type Encoding string

const (
	// AbsoluteValue uses the value list itself.
	AbsoluteValue Encoding = "absolute_value"
	// RelativeOrder uses the permutation that sorts the list ascending.
	RelativeOrder Encoding = "relative_order"
	// Delta compares each position with the previous axis point: -1, 0 or +1.
	Delta Encoding = "delta"
	// Direction is Delta with a clamp flag that currently has no effect.
	Direction Encoding = "direction"
)

// ParseEncoding accepts an encoding name. An empty name means AbsoluteValue.
func ParseEncoding(s string) (Encoding, error) {
	if s == "" {
		return AbsoluteValue, nil
	}
	switch e := Encoding(strings.ToLower(strings.TrimSpace(s))); e {
	case AbsoluteValue, RelativeOrder, Delta, Direction:
		return e, nil
	}
	return "", fmt.Errorf("unknown n-gram encoding %q", s)
}

// cell is one dependent bin value. Numeric cells compare by value, others as text.
type cell struct {
	text    string
	num     float64
	numeric bool
}

func newCell(text string) cell {
	c := cell{text: text}
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		c.num, c.numeric = v, true
	}
	return c
}

func (c cell) compare(o cell) int {
	if c.numeric && o.numeric {
		switch {
		case c.num < o.num:
			return -1
		case c.num > o.num:
			return 1
		}
		return 0
	}
	return strings.Compare(c.text, o.text)
}

// series is the dependent values of one axis point, in row order.
type series struct {
	axis  string
	cells []cell
}

// letterFunc maps every axis point to its letter.
type letterFunc func(points []series) []string

func (e Encoding) letters() letterFunc {
	switch e {
	case RelativeOrder:
		return relativeLetters
	case Delta:
		return func(points []series) []string { return deltaLetters(points, false) }
	case Direction:
		return func(points []series) []string { return deltaLetters(points, true) }
	}
	return absoluteLetters
}

func absoluteLetters(points []series) []string {
	out := make([]string, len(points))
	for i, p := range points {
		parts := make([]string, len(p.cells))
		for j, c := range p.cells {
			parts[j] = c.text
		}
		out[i] = strings.Join(parts, ",")
	}
	return out
}

func relativeLetters(points []series) []string {
	out := make([]string, len(points))
	for i, p := range points {
		idx := make([]int, len(p.cells))
		for j := range idx {
			idx[j] = j
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return p.cells[idx[a]].compare(p.cells[idx[b]]) < 0
		})
		out[i] = joinInts(idx)
	}
	return out
}

// deltaLetters compares position j with position j of the previous axis
// point. The first axis point compares with itself, and so do positions the
// previous point does not have.
func deltaLetters(points []series, _ bool) []string {
	out := make([]string, len(points))
	for i, p := range points {
		prev := p.cells
		if i > 0 {
			prev = points[i-1].cells
		}
		signs := make([]int, len(p.cells))
		for j, c := range p.cells {
			if j < len(prev) {
				signs[j] = c.compare(prev[j])
			}
		}
		out[i] = joinInts(signs)
	}
	return out
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	return strings.Join(parts, ",")
}
