package command

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/marmos91/dittoftp/pkg/ftp"
)

// ServerName is reported by STAT.
const ServerName = "DittoFTP"

func handleSYST(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()
	return sess.Reply(req, 215, "SYST", "UNIX Type: L8")
}

func handleNOOP(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()
	return sess.Reply(req, 200, "NOOP", "Command okay.")
}

// features returns the FEAT lines, each indented by one space.
func features(sess *ftp.Session) []string {
	feats := []string{"UTF8", "MDTM", "SIZE", "MFMT", "MD5", "MMD5", "REST STREAM", "TVFS", "EPSV", "EPRT", "PASV"}

	var facts []string
	for _, f := range []string{"size", "modify", "type", "perm"} {
		mark := ""
		if slices.Contains(sess.MLSTFacts, f) {
			mark = "*"
		}
		facts = append(facts, f+mark+";")
	}
	feats = append(feats, "MLST "+strings.Join(facts, ""))

	if langs := languages(sess); len(langs) > 0 {
		tagged := make([]string, len(langs))
		for i, l := range langs {
			tagged[i] = l
			if l == sess.Language {
				tagged[i] = l + "*"
			}
		}
		feats = append(feats, "LANG "+strings.Join(tagged, ";"))
	}

	if sess.Conn.TLSAvailable() {
		feats = append(feats, "AUTH TLS", "AUTH SSL", "PBSZ", "PROT")
	}

	slices.Sort(feats)
	for i := range feats {
		feats[i] = " " + feats[i]
	}
	return feats
}

func handleFEAT(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()
	lines := append([]string{"Extensions supported"}, features(sess)...)
	lines = append(lines, "End")
	return sess.Write(ftp.NewReply(211, strings.Join(lines, "\n")))
}

func handleOPTS(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	option, value, _ := strings.Cut(req.Argument, " ")
	switch strings.ToUpper(option) {
	case "UTF8", "UTF-8":
		switch strings.ToUpper(strings.TrimSpace(value)) {
		case "ON", "":
			sess.UTF8 = true
			return sess.Reply(req, 200, "OPTS.UTF8", "UTF8 mode enabled.")
		case "OFF":
			sess.UTF8 = false
			return sess.Reply(req, 200, "OPTS.UTF8", "UTF8 mode disabled.")
		}
		return sess.Reply(req, 501, "OPTS.UTF8", "Syntax error in parameters or arguments.")

	case "MLST":
		var selected []string
		for _, f := range strings.Split(strings.TrimSpace(value), ";") {
			f = strings.ToLower(strings.TrimSpace(f))
			if slices.Contains(ftp.DefaultMLSTFacts, f) && !slices.Contains(selected, f) {
				selected = append(selected, f)
			}
		}
		sess.MLSTFacts = selected
		var echo strings.Builder
		for _, f := range selected {
			echo.WriteString(f + ";")
		}
		return sess.Reply(req, 200, "OPTS.MLST", strings.TrimSpace("MLST OPTS "+echo.String()))
	}

	return sess.Reply(req, 501, "OPTS", "Option not understood.")
}

func handleHELP(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	var verbs []string
	if cs := sess.Server().Commands; cs != nil {
		verbs = cs.Verbs()
	}

	if req.HasArgument() {
		verb := strings.ToUpper(req.Argument)
		if !slices.Contains(verbs, verb) {
			return sess.Reply(req, 502, "HELP", "Unknown command "+verb+".")
		}
		return sess.Reply(req, 214, "HELP."+verb, "Command "+verb+" is supported.")
	}

	lines := []string{"The following commands are recognized."}
	for i := 0; i < len(verbs); i += 8 {
		row := verbs[i:min(i+8, len(verbs))]
		var b strings.Builder
		for _, v := range row {
			fmt.Fprintf(&b, " %-5s", v)
		}
		lines = append(lines, strings.TrimRight(b.String(), " "))
	}
	lines = append(lines, "Help OK.")
	return sess.Write(ftp.NewReply(214, strings.Join(lines, "\n")))
}

// handleSTAT without an argument reports the session status; with one it
// lists the path over the control connection.
func handleSTAT(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		lines := []string{
			ServerName + " status:",
			" Connected to " + sess.Conn.LocalAddr().String(),
			" Connected from " + sess.ClientIP(),
		}
		if u := sess.User(); u != nil {
			lines = append(lines, " Logged in as "+u.Name)
		} else {
			lines = append(lines, " Not logged in")
		}
		lines = append(lines,
			" TYPE: "+sess.DataType.String()+", STRUcture: File, MODE: Stream",
			" Session started "+sess.CreatedAt.UTC().Format(time.RFC1123),
			"End of status",
		)
		return sess.Write(ftp.NewReply(211, strings.Join(lines, "\n")))
	}

	opts := parseListArgument(req.Argument)
	entries, err := listEntries(ctx, sess, opts.path, true)
	if err != nil {
		return replyFSError(sess, req, "STAT", err)
	}

	code := 212
	if len(entries) == 1 && !entries[0].IsDir {
		code = 213
	}
	lines := []string{"Status of " + resolve(sess, opts.path) + ":"}
	now := time.Now()
	for _, e := range entries {
		lines = append(lines, " "+unixLine(e, now))
	}
	lines = append(lines, "End of status")
	return sess.Write(ftp.NewReply(code, strings.Join(lines, "\n")))
}

// languages lists the languages the message resource can serve.
func languages(sess *ftp.Session) []string {
	if m := sess.Server().Messages; m != nil {
		return m.Languages()
	}
	return nil
}

func handleLANG(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		sess.Language = sess.Server().DefaultLanguage
		return sess.Reply(req, 200, "LANG", "Command LANG okay.")
	}

	lang := strings.ToLower(req.Argument)
	for _, l := range languages(sess) {
		if strings.EqualFold(l, lang) || strings.HasPrefix(strings.ToLower(l), lang+"-") {
			sess.Language = l
			return sess.Reply(req, 200, "LANG", "Command LANG okay.")
		}
	}
	return sess.Reply(req, 504, "LANG", "Unsupported language.")
}
