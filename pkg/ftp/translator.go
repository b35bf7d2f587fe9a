package ftp

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// MessageResource supplies localized reply templates.
type MessageResource interface {
	// Message returns the template stored under code (and subID when not
	// empty) for lang. Implementations fall back to their default language.
	Message(code int, subID, lang string) (string, bool)

	// Languages lists the languages with at least one template.
	Languages() []string
}

// timeLayout formats time variables in reply templates.
const timeLayout = "2006-01-02T15:04:05.000"

// Translate returns the reply text for code.
//
// The template is looked up under "code.subID", then "code". Without a
// template basic is used as is. Otherwise {variable} references in the
// template are expanded; {output.msg} expands to basic. Unknown variables are
// left untouched.
func Translate(sess *Session, req *Request, code int, subID, basic string) string {
	var res MessageResource
	lang := ""
	if sess != nil && sess.server != nil {
		res = sess.server.Messages
		lang = sess.Language
	}
	if res == nil {
		return basic
	}

	tmpl, ok := "", false
	if subID != "" {
		tmpl, ok = res.Message(code, subID, lang)
	}
	if !ok {
		tmpl, ok = res.Message(code, "", lang)
	}
	if !ok {
		return basic
	}

	return expand(tmpl, func(name string) (string, bool) {
		return variable(sess, req, code, basic, name)
	})
}

// expand replaces every {name} for which lookup succeeds.
func expand(tmpl string, lookup func(string) (string, bool)) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}

	var sb strings.Builder
	for {
		open := strings.IndexByte(tmpl, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(tmpl[open:], '}')
		if end < 0 {
			break
		}
		end += open

		sb.WriteString(tmpl[:open])
		name := tmpl[open+1 : end]
		if v, ok := lookup(name); ok {
			sb.WriteString(v)
		} else {
			sb.WriteString(tmpl[open : end+1])
		}
		tmpl = tmpl[end+1:]
	}
	sb.WriteString(tmpl)
	return sb.String()
}

func variable(sess *Session, req *Request, code int, basic, name string) (string, bool) {
	switch {
	case name == "output.code":
		return strconv.Itoa(code), true
	case name == "output.msg":
		return basic, true
	case strings.HasPrefix(name, "request."):
		return requestVariable(req, name)
	case strings.HasPrefix(name, "server."):
		return serverVariable(sess, name)
	case strings.HasPrefix(name, "client."):
		return clientVariable(sess, name)
	case strings.HasPrefix(name, "stat."):
		return statVariable(sess, name)
	}
	return "", false
}

func requestVariable(req *Request, name string) (string, bool) {
	if req == nil {
		return "", true
	}
	switch name {
	case "request.line":
		return req.String(), true
	case "request.cmd":
		return req.Command, true
	case "request.arg":
		return req.Argument, true
	}
	return "", false
}

func serverVariable(sess *Session, name string) (string, bool) {
	addr, _ := sess.Conn.LocalAddr().(*net.TCPAddr)
	switch name {
	case "server.ip":
		if addr == nil {
			return "", true
		}
		return addr.IP.String(), true
	case "server.port":
		if addr == nil {
			return "", true
		}
		return strconv.Itoa(addr.Port), true
	}
	return "", false
}

func clientVariable(sess *Session, name string) (string, bool) {
	switch name {
	case "client.ip":
		return sess.ClientIP(), true
	case "client.con.time":
		return sess.CreatedAt.Format(timeLayout), true
	case "client.login.name":
		if u := sess.User(); u != nil {
			return u.Name, true
		}
		return sess.PendingUser(), true
	case "client.login.time":
		if t := sess.LoginTime(); !t.IsZero() {
			return t.Format(timeLayout), true
		}
		return "", true
	case "client.access.time":
		return sess.LastAccess().Format(timeLayout), true
	case "client.home":
		if u := sess.User(); u != nil {
			return u.HomeDir, true
		}
		return "", true
	case "client.dir":
		if sess.View != nil {
			return sess.View.WorkingDir(), true
		}
		return "", true
	}
	return "", false
}

func statVariable(sess *Session, name string) (string, bool) {
	if sess.server.Stats == nil {
		return "", false
	}
	st := sess.server.Stats.Snapshot()

	var v int64
	switch name {
	case "stat.start.time":
		return st.StartTime.Format(timeLayout), true
	case "stat.uptime":
		return time.Since(st.StartTime).Truncate(time.Second).String(), true
	case "stat.con.total":
		v = st.TotalConnections
	case "stat.con.curr":
		v = st.CurrentConnections
	case "stat.login.total":
		v = st.TotalLogins
	case "stat.login.curr":
		v = st.CurrentLogins
	case "stat.login.anon.total":
		v = st.TotalAnonymousLogins
	case "stat.login.anon.curr":
		v = st.CurrentAnonymousLogins
	case "stat.login.fail.total":
		v = st.TotalFailedLogins
	case "stat.file.upload.count":
		v = st.Uploads
	case "stat.file.upload.bytes":
		v = st.UploadedBytes
	case "stat.file.download.count":
		v = st.Downloads
	case "stat.file.download.bytes":
		v = st.DownloadedBytes
	case "stat.file.delete.count":
		v = st.Deletes
	case "stat.dir.create.count":
		v = st.DirsCreated
	case "stat.dir.delete.count":
		v = st.DirsRemoved
	default:
		return "", false
	}
	return strconv.FormatInt(v, 10), true
}
