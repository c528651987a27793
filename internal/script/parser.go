package script

import (
	"fmt"
	"strings"
)

var commandWords = map[string]ModeFlags{
	"copy":      ModeCopy,
	"monitor":   ModeMonitor,
	"fast_copy": ModeFastCopy,
	"benchmark": ModeBenchmark,
}

var flagWords = map[string]ModeFlags{
	"-recursive": FlagRecursive,
	"-single":    FlagSingle,
	"-update":    FlagUpdate,
	"-overwrite": FlagOverwrite,
	"-sync":      FlagSync,
	"-sync_add":  FlagSyncAdd,
	"-create":    FlagCreate,
	"-4k":        Flag4K,
	"-fast":      FlagFast,
}

// ParseError describes one malformed block. Parsing continues past a
// ParseError; the offending block is simply dropped from the result.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

type parser struct {
	tokens []token
	pos    int
	errs   []error
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}

	return p.tokens[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}

	return t, ok
}

func (p *parser) fail(line int, format string, args ...any) {
	p.errs = append(p.errs, &ParseError{Line: line, Message: fmt.Sprintf(format, args...)})
}

// recoverToNextBlock skips tokens until just past the next closing
// brace (or end of input), so that one malformed block does not
// prevent later, well-formed blocks from being parsed.
func (p *parser) recoverToNextBlock() {
	for {
		t, ok := p.next()
		if !ok {
			return
		}
		if t.kind == tokenCloseBrace {
			return
		}
	}
}

// Parse tokenizes and parses src, returning every successfully
// validated Job plus the list of recoverable errors encountered along
// the way. A non-empty error slice does not mean the result is empty:
// each malformed block is dropped independently of its neighbors.
func Parse(src string) ([]Job, []error) {
	p := &parser{tokens: tokenize(src)}

	var jobs []Job

parseLoop:
	for {
		t, ok := p.peek()
		if !ok {
			break
		}

		if t.kind != tokenWord {
			p.fail(t.line, "expected a command, found %q", t.text)
			p.next()

			continue
		}

		cmdFlag, isCommand := commandWords[t.text]
		if !isCommand {
			p.fail(t.line, "unrecognized command %q", t.text)
			p.next()

			continue
		}
		p.next()

		flags := cmdFlag
		for {
			ft, ok := p.peek()
			if !ok || ft.kind != tokenWord || !strings.HasPrefix(ft.text, "-") {
				break
			}

			bit, known := flagWords[ft.text]
			if !known {
				p.fail(ft.line, "unrecognized flag %q", ft.text)
				p.recoverToNextBlock()

				continue parseLoop
			}
			flags |= bit
			p.next()
		}

		job, err := p.parseBlock(flags)
		if err != nil {
			p.errs = append(p.errs, err)

			continue
		}

		if verr := validate(job); verr != nil {
			p.errs = append(p.errs, verr)

			continue
		}

		jobs = append(jobs, job)
	}

	return jobs, p.errs
}

// parseBlock parses "{ src <path>; dst <path>; (exclude <glob>;)* }"
// having already consumed the command and its flags. On a structural
// error inside the braces (most commonly a missing ';') it consumes up
// through the block's closing '}' and returns an error, invalidating
// only this block. When the opening '{' is missing, only the offending
// token is consumed.
func (p *parser) parseBlock(flags ModeFlags) (Job, error) {
	open, ok := p.next()
	if !ok || open.kind != tokenOpenBrace {
		line := 0
		if ok {
			line = open.line
		}

		return Job{}, &ParseError{Line: line, Message: "expected '{' to open job block"}
	}

	var src, dst string
	var excludes []string

	for {
		t, ok := p.peek()
		if !ok {
			return Job{}, &ParseError{Line: open.line, Message: "unterminated job block (missing '}')"}
		}

		if t.kind == tokenCloseBrace {
			p.next()

			break
		}

		if t.kind != tokenWord {
			p.recoverToNextBlock()

			return Job{}, &ParseError{Line: t.line, Message: fmt.Sprintf("unexpected token %q in job block", t.text)}
		}

		keyword := t.text
		p.next()

		if keyword != "src" && keyword != "dst" && keyword != "exclude" {
			p.recoverToNextBlock()

			return Job{}, &ParseError{Line: t.line, Message: fmt.Sprintf("unexpected keyword %q in job block", keyword)}
		}

		valTok, ok := p.next()
		if !ok || valTok.kind != tokenWord {
			if ok && valTok.kind != tokenCloseBrace {
				p.recoverToNextBlock()
			}

			return Job{}, &ParseError{Line: t.line, Message: fmt.Sprintf("expected a path after %q", keyword)}
		}

		semi, ok := p.next()
		if !ok || semi.kind != tokenSemicolon {
			if ok && semi.kind != tokenCloseBrace {
				p.recoverToNextBlock()
			}

			return Job{}, &ParseError{Line: valTok.line, Message: fmt.Sprintf("missing ';' after %s %q", keyword, valTok.text)}
		}

		switch keyword {
		case "src":
			src = valTok.text
		case "dst":
			dst = valTok.text
		case "exclude":
			excludes = append(excludes, valTok.text)
		}
	}

	if src == "" || dst == "" {
		return Job{}, &ParseError{Line: open.line, Message: "job block must specify both 'src' and 'dst'"}
	}

	return newJob(src, dst, flags, excludes), nil
}
