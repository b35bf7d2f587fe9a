// Package command implements the FTP verbs and the table that dispatches
// them.
//
// A Table is built once with a Builder and is read-only afterwards, so all
// sessions share it without locking. Handlers write exactly one final reply
// (transfers may precede it with a 150) and translate backend failures into
// reply codes themselves. They return an error only when the session must
// end: a control connection write failure or ftp.ErrCloseSession.
package command

import (
	"context"
	"sort"
	"strings"

	"github.com/marmos91/dittoftp/pkg/ftp"
)

// Handler executes one verb.
type Handler interface {
	Execute(ctx context.Context, sess *ftp.Session, req *ftp.Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, sess *ftp.Session, req *ftp.Request) error

func (f HandlerFunc) Execute(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	return f(ctx, sess, req)
}

// Defaults returns a fresh map of the built-in handlers keyed by verb.
func Defaults() map[string]Handler {
	return map[string]Handler{
		"ABOR": HandlerFunc(handleABOR),
		"ACCT": HandlerFunc(handleACCT),
		"ALLO": HandlerFunc(handleALLO),
		"APPE": HandlerFunc(handleAPPE),
		"AUTH": HandlerFunc(handleAUTH),
		"CDUP": HandlerFunc(handleCDUP),
		"CUP":  HandlerFunc(handleCDUP),
		"CWD":  HandlerFunc(handleCWD),
		"DELE": HandlerFunc(handleDELE),
		"EPRT": HandlerFunc(handleEPRT),
		"EPSV": HandlerFunc(handleEPSV),
		"FEAT": HandlerFunc(handleFEAT),
		"HELP": HandlerFunc(handleHELP),
		"LANG": HandlerFunc(handleLANG),
		"LIST": HandlerFunc(handleLIST),
		"MD5":  HandlerFunc(handleMD5),
		"MDTM": HandlerFunc(handleMDTM),
		"MFMT": HandlerFunc(handleMFMT),
		"MKD":  HandlerFunc(handleMKD),
		"MLSD": HandlerFunc(handleMLSD),
		"MLST": HandlerFunc(handleMLST),
		"MMD5": HandlerFunc(handleMMD5),
		"MODE": HandlerFunc(handleMODE),
		"NLST": HandlerFunc(handleNLST),
		"NOOP": HandlerFunc(handleNOOP),
		"OPTS": HandlerFunc(handleOPTS),
		"PASS": HandlerFunc(handlePASS),
		"PASV": HandlerFunc(handlePASV),
		"PBSZ": HandlerFunc(handlePBSZ),
		"PORT": HandlerFunc(handlePORT),
		"PROT": HandlerFunc(handlePROT),
		"PWD":  HandlerFunc(handlePWD),
		"QUIT": HandlerFunc(handleQUIT),
		"REIN": HandlerFunc(handleREIN),
		"REST": HandlerFunc(handleREST),
		"RETR": HandlerFunc(handleRETR),
		"RMD":  HandlerFunc(handleRMD),
		"RNFR": HandlerFunc(handleRNFR),
		"RNTO": HandlerFunc(handleRNTO),
		"SITE": HandlerFunc(handleSITE),
		"SIZE": HandlerFunc(handleSIZE),
		"STAT": HandlerFunc(handleSTAT),
		"STOR": HandlerFunc(handleSTOR),
		"STOU": HandlerFunc(handleSTOU),
		"STRU": HandlerFunc(handleSTRU),
		"SYST": HandlerFunc(handleSYST),
		"TYPE": HandlerFunc(handleTYPE),
		"USER": HandlerFunc(handleUSER),
	}
}

// preLogin lists the verbs accepted before authentication.
var preLogin = map[string]bool{
	"USER": true, "PASS": true, "AUTH": true, "PBSZ": true, "PROT": true,
	"QUIT": true, "FEAT": true, "SYST": true, "NOOP": true, "HELP": true,
	"LANG": true, "OPTS": true,
}

// AllowedBeforeLogin reports whether verb may run on an unauthenticated
// session. verb must be canonical (see Table.Resolve).
func AllowedBeforeLogin(verb string) bool {
	return preLogin[verb]
}

// Table maps verbs to handlers. The zero value has no verbs.
type Table struct {
	handlers map[string]Handler
}

// Resolve finds the handler for verb and returns its canonical name.
//
// Matching is case-insensitive. When no handler matches, a leading X on
// verbs longer than three characters is dropped (XMKD, XPWD, ...).
func (t *Table) Resolve(verb string) (string, Handler, bool) {
	if t == nil || verb == "" {
		return "", nil, false
	}
	verb = strings.ToUpper(verb)
	if h, ok := t.handlers[verb]; ok {
		return verb, h, true
	}
	if len(verb) > 3 && verb[0] == 'X' {
		if h, ok := t.handlers[verb[1:]]; ok {
			return verb[1:], h, true
		}
	}
	return "", nil, false
}

// Lookup returns the handler for verb.
func (t *Table) Lookup(verb string) (Handler, bool) {
	_, h, ok := t.Resolve(verb)
	return h, ok
}

// Verbs returns the registered verbs in sorted order.
func (t *Table) Verbs() []string {
	if t == nil {
		return nil
	}
	verbs := make([]string, 0, len(t.handlers))
	for v := range t.handlers {
		verbs = append(verbs, v)
	}
	sort.Strings(verbs)
	return verbs
}

// Builder assembles a Table.
type Builder struct {
	overrides   map[string]Handler
	useDefaults bool
	disabled    map[string]bool
}

// NewBuilder returns a builder with the default handlers enabled.
func NewBuilder() *Builder {
	return &Builder{
		overrides:   make(map[string]Handler),
		useDefaults: true,
		disabled:    make(map[string]bool),
	}
}

// Register sets the handler for verb, replacing any default.
func (b *Builder) Register(verb string, h Handler) *Builder {
	b.overrides[strings.ToUpper(verb)] = h
	return b
}

// UseDefaults controls whether the built-in handlers are included.
func (b *Builder) UseDefaults(enabled bool) *Builder {
	b.useDefaults = enabled
	return b
}

// Disable removes verbs from the table, whether default or registered.
func (b *Builder) Disable(verbs ...string) *Builder {
	for _, v := range verbs {
		b.disabled[strings.ToUpper(strings.TrimSpace(v))] = true
	}
	return b
}

// Build returns the table. Later changes to the builder do not affect it.
func (b *Builder) Build() *Table {
	handlers := make(map[string]Handler)
	if b.useDefaults {
		for v, h := range Defaults() {
			handlers[v] = h
		}
	}
	for v, h := range b.overrides {
		handlers[v] = h
	}
	for v := range b.disabled {
		delete(handlers, v)
	}
	return &Table{handlers: handlers}
}
