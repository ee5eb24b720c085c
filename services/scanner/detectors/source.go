// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detectors

import (
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/runtimescan/services/scanner/lineindex"
)

// Line is one line of a Source.
type Line struct {
	// Number is the 1-based line number.
	Number int

	// Offset is the byte offset of the first character of the line.
	Offset int

	// Text is the raw line without its terminator.
	Text string

	// Code is the line with comments and string contents blanked.
	Code string
}

// Block is a brace-delimited region of a Source.
type Block struct {
	// Start is the offset of the construct that owns the block (the
	// keyword of a loop or try, the start of a method declaration).
	Start int

	// Open is the offset of the opening brace, or of the first body
	// character for brace-less single statement bodies.
	Open int

	// Close is the offset one past the last body character.
	Close int
}

// Contains reports whether offset lies within the block body.
func (b Block) Contains(offset int) bool {
	return offset > b.Open && offset < b.Close
}

// Method is a method or function declaration found in a Source.
type Method struct {
	Name       string
	Modifiers  string
	ReturnType string

	// Params is the raw parameter list without parentheses.
	Params string

	// Start is the offset of the declaration.
	Start int

	// Body is the method body. Body.Close == Body.Open when the method
	// has no body (abstract or interface members).
	Body Block

	// Expression reports an expression-bodied member (=>).
	Expression bool
}

// Catch is a catch clause found in a Source.
type Catch struct {
	// Start is the offset of the catch keyword.
	Start int

	// Declaration is the text between the parentheses, empty for a bare catch.
	Declaration string

	// Body is the catch body.
	Body Block
}

// Source is the view of one source unit shared by all detectors.
//
// Description:
//
//	Besides the raw text, Source holds a code view of the same length in
//	which comments and the contents of string literals are blanked with
//	spaces. Structural patterns (loops, calls, operators) are matched on
//	the code view so text inside literals and comments cannot trigger them;
//	patterns about literal values (URLs, configuration keys) use the raw
//	text. Offsets are interchangeable between the two views.
//
// Thread Safety:
//
//	Immutable after NewSource returns, safe for concurrent use.
type Source struct {
	Label string
	Text  string
	Code  string

	lines    []Line
	resolver *lineindex.Resolver
	tries    []Block
	loops    []Block
	methods  []Method
	catches  []Catch
}

// NewSource builds the detector view of text.
//
// Inputs:
//
//	label - The file label attached to findings. May be empty.
//	text - The source text.
//	ix - The line index used for offset lookups. Nil uses lineindex.Default().
//
// Outputs:
//
//	*Source - The prepared view.
func NewSource(label, text string, ix *lineindex.Index) *Source {
	if ix == nil {
		ix = lineindex.Default()
	}
	s := &Source{
		Label:    label,
		Text:     text,
		Code:     StripCode(text),
		resolver: ix.Resolver(text),
	}
	s.lines = splitLines(s.Text, s.Code)
	st := newStructure(s.Code)
	s.tries = st.tryBlocks()
	s.loops = st.loops()
	s.methods = st.methods()
	s.catches = st.catches()
	return s
}

// LineOf returns the 1-based line of offset.
func (s *Source) LineOf(offset int) int {
	return s.resolver.LineOf(offset)
}

// Lines returns the lines of the source.
func (s *Source) Lines() []Line {
	return s.lines
}

// InTry reports whether offset lies inside a try block.
func (s *Source) InTry(offset int) bool {
	for _, b := range s.tries {
		if b.Contains(offset) {
			return true
		}
	}
	return false
}

// InLoop reports whether offset lies inside a loop body.
func (s *Source) InLoop(offset int) bool {
	for _, b := range s.loops {
		if b.Contains(offset) {
			return true
		}
	}
	return false
}

// Loops returns the loop bodies in source order.
func (s *Source) Loops() []Block {
	return s.loops
}

// Methods returns the method declarations in source order.
func (s *Source) Methods() []Method {
	return s.methods
}

// Catches returns the catch clauses in source order.
func (s *Source) Catches() []Catch {
	return s.catches
}

// EnclosingMethod returns the method whose body contains offset.
func (s *Source) EnclosingMethod(offset int) (Method, bool) {
	var found Method
	ok := false
	for _, m := range s.methods {
		if m.Body.Contains(offset) {
			// innermost wins: later declarations nested inside earlier ones
			found, ok = m, true
		}
	}
	return found, ok
}

// Body returns the code view of a block body.
func (s *Source) Body(b Block) string {
	open := b.Open + 1
	if open > b.Close {
		return ""
	}
	return s.Code[open:b.Close]
}

// Scope returns the code view of the innermost method containing offset,
// or the whole code view when offset is outside any method.
func (s *Source) Scope(offset int) (string, int) {
	if m, ok := s.EnclosingMethod(offset); ok {
		return s.Code[m.Start:m.Body.Close], m.Start
	}
	return s.Code, 0
}

func splitLines(text, code string) []Line {
	var lines []Line
	start := 0
	n := 1
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			lines = append(lines, Line{
				Number: n,
				Offset: start,
				Text:   strings.TrimSuffix(text[start:i], "\r"),
				Code:   strings.TrimSuffix(code[start:i], "\r"),
			})
			n++
			start = i + 1
		}
	}
	return lines
}

// StripCode blanks comments and string literal contents with spaces.
//
// Description:
//
//	Handles // and /* */ comments, "..." and '...' literals with
//	backslash escapes, @"..." verbatim literals and `...` template
//	literals. Quote characters and newlines are kept so offsets and line
//	numbers match the input exactly. Ordinary literals end at a newline so
//	a stray apostrophe cannot blank the rest of the file.
func StripCode(text string) string {
	b := []byte(text)
	out := make([]byte, len(b))
	copy(out, b)

	blank := func(i int) {
		if b[i] != '\n' && b[i] != '\r' {
			out[i] = ' '
		}
	}

	i := 0
	for i < len(b) {
		c := b[i]
		switch {
		case c == '/' && i+1 < len(b) && b[i+1] == '/':
			for i < len(b) && b[i] != '\n' {
				blank(i)
				i++
			}

		case c == '/' && i+1 < len(b) && b[i+1] == '*':
			blank(i)
			blank(i + 1)
			i += 2
			for i < len(b) && !(b[i] == '*' && i+1 < len(b) && b[i+1] == '/') {
				blank(i)
				i++
			}
			if i+1 < len(b) {
				blank(i)
				blank(i + 1)
				i += 2
			} else {
				i = len(b)
			}

		case c == '@' && i+1 < len(b) && b[i+1] == '"':
			i += 2
			for i < len(b) {
				if b[i] == '"' {
					if i+1 < len(b) && b[i+1] == '"' {
						blank(i)
						blank(i + 1)
						i += 2
						continue
					}
					break
				}
				blank(i)
				i++
			}
			i++

		case c == '"' || c == '\'' || c == '`':
			q := c
			i++
			for i < len(b) && b[i] != q {
				if b[i] == '\n' && q != '`' {
					break
				}
				if b[i] == '\\' && i+1 < len(b) && b[i+1] != '\n' {
					blank(i)
					blank(i + 1)
					i += 2
					continue
				}
				blank(i)
				i++
			}
			if i < len(b) && b[i] == q {
				i++
			}

		default:
			i++
		}
	}
	return string(out)
}

// maxDeclarationTail bounds the distance between the parameter list of a
// declaration and its body. Constraints, base calls and throws clauses
// are far shorter; headers without a body within reach are not methods.
const maxDeclarationTail = 1024

// structure is the bracket map of a code view, built in one pass.
type structure struct {
	code string

	// partner holds, for every bracket, the offset of its partner of the
	// same kind, or -1 when it has none. Non-bracket offsets hold -1.
	partner []int32

	// semis are the offsets of every ';' in increasing order.
	semis []int
}

func newStructure(code string) *structure {
	st := &structure{code: code, partner: make([]int32, len(code))}
	var curly, round, square []int32
	pop := func(stack *[]int32, i int) {
		n := len(*stack)
		if n == 0 {
			return
		}
		open := (*stack)[n-1]
		*stack = (*stack)[:n-1]
		st.partner[open] = int32(i)
		st.partner[i] = open
	}
	for i := 0; i < len(code); i++ {
		st.partner[i] = -1
		switch code[i] {
		case '{':
			curly = append(curly, int32(i))
		case '(':
			round = append(round, int32(i))
		case '[':
			square = append(square, int32(i))
		case '}':
			pop(&curly, i)
		case ')':
			pop(&round, i)
		case ']':
			pop(&square, i)
		case ';':
			st.semis = append(st.semis, i)
		}
	}
	return st
}

// matchClose returns the offset of the bracket closing the one at open,
// or -1 when unbalanced.
func (st *structure) matchClose(open int) int {
	if open < 0 || open >= len(st.code) {
		return -1
	}
	switch st.code[open] {
	case '{', '(', '[':
	default:
		return -1
	}
	if p := int(st.partner[open]); p > open {
		return p
	}
	return -1
}

// nextSemicolon returns the offset of the first ';' at or after from, or
// -1 when there is none.
func (st *structure) nextSemicolon(from int) int {
	k := sort.SearchInts(st.semis, from)
	if k == len(st.semis) {
		return -1
	}
	return st.semis[k]
}

// statementBody returns the body that follows a header ending at pos: a
// braced block, or a single statement up to the next semicolon.
func (st *structure) statementBody(start, pos int) (Block, bool) {
	code := st.code
	i := skipSpace(code, pos)
	if i >= len(code) {
		return Block{}, false
	}
	if code[i] == '{' {
		end := st.matchClose(i)
		if end < 0 {
			return Block{}, false
		}
		return Block{Start: start, Open: i, Close: end}, true
	}
	if code[i] == ';' {
		return Block{}, false
	}
	end := st.nextSemicolon(i)
	if end < 0 {
		end = len(code)
	}
	return Block{Start: start, Open: i - 1, Close: end}, true
}

func skipSpace(code string, i int) int {
	for i < len(code) && (code[i] == ' ' || code[i] == '\t' || code[i] == '\n' || code[i] == '\r') {
		i++
	}
	return i
}

var (
	reTryOpen   = regexp.MustCompile(`\btry\s*\{`)
	reLoopHead  = regexp.MustCompile(`\b(?:for|foreach|while)\s*\(`)
	reDoOpen    = regexp.MustCompile(`\bdo\s*\{`)
	reCatchHead = regexp.MustCompile(`\bcatch\b\s*(?:\(([^)]*)\))?\s*(?:when\s*\([^)]*\)\s*)?\{`)
	reMethod    = regexp.MustCompile(`(?m)^[ \t]*((?:(?:public|private|protected|internal|static|virtual|override|sealed|async|abstract|extern|unsafe|new|partial|final|synchronized)\s+)+)([\w.]+(?:<[^>;{}()]*>)?(?:\[\])?\??)\s+(\w+)\s*(?:<[^>;{}()]*>)?\s*\(`)
	reFunc      = regexp.MustCompile(`(?m)^[ \t]*(?:export\s+)?((?:async\s+)?)function\s*\*?\s*(\w+)\s*\(`)
)

// The structural scans below run with plain regexp calls: they run once per
// source while it is prepared, before any detector, on RE2 expressions
// whose cost is linear in the input. Bracket partners come from the
// structure table, so each construct costs constant time beyond its match.

func (st *structure) tryBlocks() []Block {
	var blocks []Block
	for _, m := range reTryOpen.FindAllStringIndex(st.code, -1) {
		open := m[1] - 1
		end := st.matchClose(open)
		if end < 0 {
			continue
		}
		blocks = append(blocks, Block{Start: m[0], Open: open, Close: end})
	}
	return blocks
}

func (st *structure) loops() []Block {
	var blocks []Block
	for _, m := range reLoopHead.FindAllStringIndex(st.code, -1) {
		paren := m[1] - 1
		end := st.matchClose(paren)
		if end < 0 {
			continue
		}
		if b, ok := st.statementBody(m[0], end+1); ok {
			blocks = append(blocks, b)
		}
	}
	for _, m := range reDoOpen.FindAllStringIndex(st.code, -1) {
		open := m[1] - 1
		end := st.matchClose(open)
		if end < 0 {
			continue
		}
		blocks = append(blocks, Block{Start: m[0], Open: open, Close: end})
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Start < blocks[j].Start })
	return blocks
}

func (st *structure) catches() []Catch {
	code := st.code
	var catches []Catch
	for _, m := range reCatchHead.FindAllStringSubmatchIndex(code, -1) {
		open := m[1] - 1
		end := st.matchClose(open)
		if end < 0 {
			continue
		}
		decl := ""
		if m[2] >= 0 {
			decl = strings.TrimSpace(code[m[2]:m[3]])
		}
		catches = append(catches, Catch{
			Start:       m[0],
			Declaration: decl,
			Body:        Block{Start: m[0], Open: open, Close: end},
		})
	}
	return catches
}

func (st *structure) methods() []Method {
	code := st.code
	var methods []Method

	for _, m := range reMethod.FindAllStringSubmatchIndex(code, -1) {
		modifiers := strings.Join(strings.Fields(code[m[2]:m[3]]), " ")
		returnType := code[m[4]:m[5]]
		name := code[m[6]:m[7]]
		if isKeyword(returnType) && returnType != "void" {
			continue
		}
		if method, ok := st.methodAt(m[0], m[1]-1, name, modifiers, returnType); ok {
			methods = append(methods, method)
		}
	}

	for _, m := range reFunc.FindAllStringSubmatchIndex(code, -1) {
		modifiers := strings.TrimSpace(code[m[2]:m[3]])
		name := code[m[4]:m[5]]
		if method, ok := st.methodAt(m[0], m[1]-1, name, modifiers, ""); ok {
			methods = append(methods, method)
		}
	}

	sort.Slice(methods, func(i, j int) bool { return methods[i].Start < methods[j].Start })
	return methods
}

// methodAt completes a declaration whose parameter list opens at paren.
func (st *structure) methodAt(start, paren int, name, modifiers, returnType string) (Method, bool) {
	code := st.code
	closeParen := st.matchClose(paren)
	if closeParen < 0 {
		return Method{}, false
	}
	method := Method{
		Name:       name,
		Modifiers:  modifiers,
		ReturnType: returnType,
		Params:     strings.TrimSpace(code[paren+1 : closeParen]),
		Start:      start,
	}

	// Skip constraints, base constructor calls and throws clauses up to
	// the body.
	limit := min(len(code), closeParen+1+maxDeclarationTail)
	for i := closeParen + 1; i < limit; i++ {
		switch code[i] {
		case '{':
			end := st.matchClose(i)
			if end < 0 {
				return Method{}, false
			}
			method.Body = Block{Start: start, Open: i, Close: end}
			return method, true
		case ';':
			method.Body = Block{Start: start, Open: i, Close: i}
			return method, true
		case '=':
			if i+1 < len(code) && code[i+1] == '>' {
				end := st.nextSemicolon(i)
				if end < 0 {
					end = len(code)
				}
				method.Body = Block{Start: start, Open: i + 1, Close: end}
				method.Expression = true
				return method, true
			}
		case '(':
			if end := st.matchClose(i); end > 0 {
				i = end
			}
		}
	}
	return Method{}, false
}

func isKeyword(word string) bool {
	switch word {
	case "return", "new", "class", "struct", "interface", "enum", "record",
		"void", "if", "else", "while", "for", "foreach", "switch", "using",
		"namespace", "throw", "await", "event", "delegate", "operator":
		return true
	}
	return false
}
