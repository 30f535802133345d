package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/clinicore/clinical-governance-backend/internal/domain/errors"
)

// The expression language is a restricted JSON-Logic dialect. Rule logic is
// data written by administrators, not developers, so it crosses a security
// boundary on every load. Instead of checking operator strings against a
// runtime allowlist, parsing admits only a closed set of node types: an
// expression that survives Parse cannot reference an operation that does
// not exist below. Anything else fails with DISALLOWED_OPERATOR and the
// rule carrying it is skipped.

// Node is one evaluable expression node.
type Node interface {
	// Eval computes the node against a read-only context. Evaluation
	// errors mean the logic is malformed for this context (wrong types,
	// division by zero); they are per-rule, never batch-fatal.
	Eval(ctx *RuleContext) (interface{}, error)
}

// Operator groups admitted by the parser.
var comparisonOps = map[string]bool{
	"==": true, "===": true, "!=": true, "!==": true,
	">": true, ">=": true, "<": true, "<=": true,
}

var arithmeticOps = map[string]bool{
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"min": true, "max": true,
}

// LiteralNode wraps a JSON scalar or array of scalars.
type LiteralNode struct {
	Value interface{}
}

func (n LiteralNode) Eval(_ *RuleContext) (interface{}, error) {
	return n.Value, nil
}

// VarNode reads a context attribute by dotted path, with an optional
// default when the attribute is absent.
type VarNode struct {
	Path    string
	Default interface{}
}

func (n VarNode) Eval(ctx *RuleContext) (interface{}, error) {
	if value, ok := ctx.Lookup(n.Path); ok {
		return value, nil
	}
	return n.Default, nil
}

// CompareNode applies a comparison operator to two operands.
type CompareNode struct {
	Op          string
	Left, Right Node
}

func (n CompareNode) Eval(ctx *RuleContext) (interface{}, error) {
	left, err := n.Left.Eval(ctx)
	if err != nil {
		return nil, err
	}
	right, err := n.Right.Eval(ctx)
	if err != nil {
		return nil, err
	}

	switch n.Op {
	case "==", "===":
		return looseEqual(left, right), nil
	case "!=", "!==":
		return !looseEqual(left, right), nil
	}

	lf, lok := toNumber(left)
	rf, rok := toNumber(right)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %q requires numeric operands, got %T and %T", n.Op, left, right)
	}

	switch n.Op {
	case ">":
		return lf > rf, nil
	case ">=":
		return lf >= rf, nil
	case "<":
		return lf < rf, nil
	case "<=":
		return lf <= rf, nil
	}
	return nil, fmt.Errorf("unreachable comparison operator %q", n.Op)
}

// LogicNode is an and/or over one or more operands, short-circuiting.
type LogicNode struct {
	Op   string // "and" | "or"
	Args []Node
}

func (n LogicNode) Eval(ctx *RuleContext) (interface{}, error) {
	var last interface{}
	for _, arg := range n.Args {
		value, err := arg.Eval(ctx)
		if err != nil {
			return nil, err
		}
		last = value
		if n.Op == "and" && !truthy(value) {
			return value, nil
		}
		if n.Op == "or" && truthy(value) {
			return value, nil
		}
	}
	return last, nil
}

// NotNode negates its operand; Double true applies !! (coerce to bool).
type NotNode struct {
	Arg    Node
	Double bool
}

func (n NotNode) Eval(ctx *RuleContext) (interface{}, error) {
	value, err := n.Arg.Eval(ctx)
	if err != nil {
		return nil, err
	}
	if n.Double {
		return truthy(value), nil
	}
	return !truthy(value), nil
}

// IfNode is condition/then chains with an optional trailing else.
type IfNode struct {
	Branches []IfBranch
	Else     Node
}

type IfBranch struct {
	Cond Node
	Then Node
}

func (n IfNode) Eval(ctx *RuleContext) (interface{}, error) {
	for _, branch := range n.Branches {
		cond, err := branch.Cond.Eval(ctx)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return branch.Then.Eval(ctx)
		}
	}
	if n.Else != nil {
		return n.Else.Eval(ctx)
	}
	return nil, nil
}

// ArithmeticNode applies a numeric operator across its operands.
type ArithmeticNode struct {
	Op   string
	Args []Node
}

func (n ArithmeticNode) Eval(ctx *RuleContext) (interface{}, error) {
	values := make([]float64, len(n.Args))
	for i, arg := range n.Args {
		value, err := arg.Eval(ctx)
		if err != nil {
			return nil, err
		}
		f, ok := toNumber(value)
		if !ok {
			return nil, fmt.Errorf("operator %q requires numeric operands, got %T", n.Op, value)
		}
		values[i] = f
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("operator %q requires at least one operand", n.Op)
	}

	switch n.Op {
	case "+":
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum, nil
	case "-":
		if len(values) == 1 {
			return -values[0], nil
		}
		return values[0] - values[1], nil
	case "*":
		product := 1.0
		for _, v := range values {
			product *= v
		}
		return product, nil
	case "/":
		if len(values) < 2 {
			return nil, fmt.Errorf("operator %q requires two operands", n.Op)
		}
		if values[1] == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return values[0] / values[1], nil
	case "%":
		if len(values) < 2 {
			return nil, fmt.Errorf("operator %q requires two operands", n.Op)
		}
		if values[1] == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return math.Mod(values[0], values[1]), nil
	case "min":
		m := values[0]
		for _, v := range values[1:] {
			m = math.Min(m, v)
		}
		return m, nil
	case "max":
		m := values[0]
		for _, v := range values[1:] {
			m = math.Max(m, v)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unreachable arithmetic operator %q", n.Op)
}

// InNode tests membership: needle in array, or substring in string.
type InNode struct {
	Needle, Haystack Node
}

func (n InNode) Eval(ctx *RuleContext) (interface{}, error) {
	needle, err := n.Needle.Eval(ctx)
	if err != nil {
		return nil, err
	}
	haystack, err := n.Haystack.Eval(ctx)
	if err != nil {
		return nil, err
	}

	switch h := haystack.(type) {
	case []interface{}:
		for _, item := range h {
			if looseEqual(needle, item) {
				return true, nil
			}
		}
		return false, nil
	case string:
		s, ok := needle.(string)
		if !ok {
			return nil, fmt.Errorf("in: substring search requires a string needle, got %T", needle)
		}
		return strings.Contains(h, s), nil
	case nil:
		return false, nil
	}
	return nil, fmt.Errorf("in: haystack must be an array or string, got %T", haystack)
}

// CatNode concatenates its operands as strings.
type CatNode struct {
	Args []Node
}

func (n CatNode) Eval(ctx *RuleContext) (interface{}, error) {
	var b strings.Builder
	for _, arg := range n.Args {
		value, err := arg.Eval(ctx)
		if err != nil {
			return nil, err
		}
		if value != nil {
			b.WriteString(stringify(value))
		}
	}
	return b.String(), nil
}

// MissingNode returns the subset of the named attributes absent from the
// context, as JSON-Logic's "missing" does.
type MissingNode struct {
	Keys []string
}

func (n MissingNode) Eval(ctx *RuleContext) (interface{}, error) {
	missing := make([]interface{}, 0)
	for _, key := range n.Keys {
		if _, ok := ctx.Lookup(key); !ok {
			missing = append(missing, key)
		}
	}
	return missing, nil
}

// Parse decodes raw JSON-Logic into the closed AST. Any operator without a
// node type above is rejected with a security error; the caller logs the
// rejection and skips the rule, never the batch.
func Parse(raw json.RawMessage) (Node, error) {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, errors.NewValidationError("MALFORMED_LOGIC",
			"rule logic is not valid JSON").WithCause(err)
	}
	return parseValue(decoded)
}

func parseValue(value interface{}) (Node, error) {
	switch v := value.(type) {
	case map[string]interface{}:
		return parseOperator(v)
	case []interface{}:
		// Bare arrays are literal arrays of scalars.
		for _, item := range v {
			if _, ok := item.(map[string]interface{}); ok {
				return nil, errors.NewValidationError("MALFORMED_LOGIC",
					"literal arrays may not contain expressions")
			}
		}
		return LiteralNode{Value: v}, nil
	default:
		// Scalars: string, float64, bool, nil.
		return LiteralNode{Value: v}, nil
	}
}

func parseOperator(obj map[string]interface{}) (Node, error) {
	if len(obj) != 1 {
		return nil, errors.NewValidationError("MALFORMED_LOGIC",
			fmt.Sprintf("expression object must have exactly one operator key, has %d", len(obj)))
	}

	var op string
	var rawArgs interface{}
	for k, v := range obj {
		op, rawArgs = k, v
	}

	args := normalizeArgs(rawArgs)

	switch {
	case op == "var":
		return parseVar(args)

	case comparisonOps[op]:
		if len(args) != 2 {
			return nil, errors.NewValidationError("MALFORMED_LOGIC",
				fmt.Sprintf("operator %q requires exactly two operands", op))
		}
		left, err := parseValue(args[0])
		if err != nil {
			return nil, err
		}
		right, err := parseValue(args[1])
		if err != nil {
			return nil, err
		}
		return CompareNode{Op: op, Left: left, Right: right}, nil

	case op == "and" || op == "or":
		if len(args) == 0 {
			return nil, errors.NewValidationError("MALFORMED_LOGIC",
				fmt.Sprintf("operator %q requires at least one operand", op))
		}
		nodes, err := parseAll(args)
		if err != nil {
			return nil, err
		}
		return LogicNode{Op: op, Args: nodes}, nil

	case op == "!" || op == "!!":
		if len(args) != 1 {
			return nil, errors.NewValidationError("MALFORMED_LOGIC",
				fmt.Sprintf("operator %q requires exactly one operand", op))
		}
		arg, err := parseValue(args[0])
		if err != nil {
			return nil, err
		}
		return NotNode{Arg: arg, Double: op == "!!"}, nil

	case op == "if":
		return parseIf(args)

	case arithmeticOps[op]:
		nodes, err := parseAll(args)
		if err != nil {
			return nil, err
		}
		return ArithmeticNode{Op: op, Args: nodes}, nil

	case op == "in":
		if len(args) != 2 {
			return nil, errors.NewValidationError("MALFORMED_LOGIC",
				`operator "in" requires exactly two operands`)
		}
		needle, err := parseValue(args[0])
		if err != nil {
			return nil, err
		}
		haystack, err := parseValue(args[1])
		if err != nil {
			return nil, err
		}
		return InNode{Needle: needle, Haystack: haystack}, nil

	case op == "cat":
		nodes, err := parseAll(args)
		if err != nil {
			return nil, err
		}
		return CatNode{Args: nodes}, nil

	case op == "missing":
		keys := make([]string, 0, len(args))
		for _, arg := range args {
			s, ok := arg.(string)
			if !ok {
				return nil, errors.NewValidationError("MALFORMED_LOGIC",
					`operator "missing" takes attribute names only`)
			}
			keys = append(keys, s)
		}
		return MissingNode{Keys: keys}, nil
	}

	return nil, errors.NewSecurityError("DISALLOWED_OPERATOR",
		fmt.Sprintf("operator %q is not in the allowed expression set", op))
}

func parseVar(args []interface{}) (Node, error) {
	if len(args) == 0 {
		return nil, errors.NewValidationError("MALFORMED_LOGIC",
			`operator "var" requires an attribute path`)
	}
	path, ok := args[0].(string)
	if !ok {
		return nil, errors.NewValidationError("MALFORMED_LOGIC",
			`operator "var" requires a string attribute path`)
	}
	node := VarNode{Path: path}
	if len(args) > 1 {
		if _, isExpr := args[1].(map[string]interface{}); isExpr {
			return nil, errors.NewValidationError("MALFORMED_LOGIC",
				`operator "var" defaults must be literals`)
		}
		node.Default = args[1]
	}
	return node, nil
}

func parseIf(args []interface{}) (Node, error) {
	if len(args) < 2 {
		return nil, errors.NewValidationError("MALFORMED_LOGIC",
			`operator "if" requires at least a condition and a consequent`)
	}

	node := IfNode{}
	i := 0
	for ; i+1 < len(args); i += 2 {
		cond, err := parseValue(args[i])
		if err != nil {
			return nil, err
		}
		then, err := parseValue(args[i+1])
		if err != nil {
			return nil, err
		}
		node.Branches = append(node.Branches, IfBranch{Cond: cond, Then: then})
	}
	if i < len(args) {
		elseNode, err := parseValue(args[i])
		if err != nil {
			return nil, err
		}
		node.Else = elseNode
	}
	return node, nil
}

func parseAll(args []interface{}) ([]Node, error) {
	nodes := make([]Node, len(args))
	for i, arg := range args {
		node, err := parseValue(arg)
		if err != nil {
			return nil, err
		}
		nodes[i] = node
	}
	return nodes, nil
}

// normalizeArgs lifts a single operand into a one-element slice, matching
// JSON-Logic's unary shorthand ({"var": "age"}).
func normalizeArgs(raw interface{}) []interface{} {
	if args, ok := raw.([]interface{}); ok {
		return args
	}
	return []interface{}{raw}
}

func truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case string:
		return v != ""
	case []interface{}:
		return len(v) > 0
	}
	return true
}

func toNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func looseEqual(a, b interface{}) bool {
	if af, aok := toNumber(a); aok {
		if bf, bok := toNumber(b); bok {
			return af == bf
		}
	}
	// Slices reach here through missing and context attributes; comparing
	// them with == would panic, so anything non-scalar is simply not equal.
	if !scalar(a) || !scalar(b) {
		return false
	}
	return a == b
}

func scalar(value interface{}) bool {
	switch value.(type) {
	case nil, bool, string, float64, int, int64:
		return true
	}
	return false
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == math.Trunc(v) {
			return fmt.Sprintf("%.0f", v)
		}
		return fmt.Sprintf("%g", v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	}
	return fmt.Sprintf("%v", value)
}
