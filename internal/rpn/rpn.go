// Package rpn implements the reverse polish expression evaluator used by
// dynamic state formulas.
package rpn

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/curbz/tpxplane/pkg/util"
)

var log = logrus.WithField("logger", "RPC")

// ErrEvaluation is returned when an expression cannot produce a value:
// empty stack at the end, operand underflow, or division by zero.
var ErrEvaluation = errors.New("rpn evaluation failed")

// Evaluate computes a whitespace-separated reverse polish expression.
// Tokens are decimal literals or operators. Unknown tokens are skipped with
// a warning; formulas in the wild rely on this leniency.
func Evaluate(expr string) (float64, error) {
	stack := make([]float64, 0, 8)

	push := func(v float64) { stack = append(stack, v) }
	pop := func() (float64, error) {
		if len(stack) == 0 {
			return 0, fmt.Errorf("%w: operand stack underflow in %q", ErrEvaluation, expr)
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}

	for _, token := range strings.Fields(expr) {
		if v, err := strconv.ParseFloat(token, 64); err == nil {
			push(v)
			continue
		}

		switch token {
		case "+", "-", "*", "/", "%", "mod":
			// top of stack is the right-hand side
			right, err := pop()
			if err != nil {
				return 0, err
			}
			left, err := pop()
			if err != nil {
				return 0, err
			}
			switch token {
			case "+":
				push(left + right)
			case "-":
				push(left - right)
			case "*":
				push(left * right)
			case "/":
				if right == 0 {
					return 0, fmt.Errorf("%w: division by zero in %q", ErrEvaluation, expr)
				}
				push(left / right)
			case "%", "mod":
				if right == 0 {
					return 0, fmt.Errorf("%w: modulo by zero in %q", ErrEvaluation, expr)
				}
				push(math.Mod(left, right))
			}
		case "floor":
			v, err := pop()
			if err != nil {
				return 0, err
			}
			push(math.Floor(v))
		case "ceil":
			v, err := pop()
			if err != nil {
				return 0, err
			}
			push(math.Ceil(v))
		case "round":
			// precision is on top, then the value: round(v, p)
			prec, err := pop()
			if err != nil {
				return 0, err
			}
			v, err := pop()
			if err != nil {
				return 0, err
			}
			push(util.Round(v, int(prec)))
		case "abs":
			v, err := pop()
			if err != nil {
				return 0, err
			}
			push(math.Abs(v))
		case "eq":
			a, err := pop()
			if err != nil {
				return 0, err
			}
			b, err := pop()
			if err != nil {
				return 0, err
			}
			if a == b {
				push(1.0)
			} else {
				push(0.0)
			}
		case "not":
			v, err := pop()
			if err != nil {
				return 0, err
			}
			if v == 0 {
				push(1.0)
			} else {
				push(0.0)
			}
		default:
			log.Warnf("invalid token %q", token)
		}
	}

	if len(stack) == 0 {
		return 0, fmt.Errorf("%w: empty stack for %q", ErrEvaluation, expr)
	}
	return stack[len(stack)-1], nil
}
