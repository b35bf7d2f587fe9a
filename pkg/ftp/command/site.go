package command

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittoftp/internal/logger"
	"github.com/marmos91/dittoftp/pkg/ftp"
)

type siteCommand struct {
	admin bool
	run   func(ctx context.Context, sess *ftp.Session, req *ftp.Request, arg string) error
}

var siteCommands = map[string]siteCommand{
	"HELP":     {run: siteHELP},
	"ZONE":     {run: siteZONE},
	"WHO":      {admin: true, run: siteWHO},
	"STAT":     {admin: true, run: siteSTAT},
	"DESCUSER": {admin: true, run: siteDESCUSER},
}

func handleSITE(ctx context.Context, sess *ftp.Session, req *ftp.Request) error {
	sess.ResetState()

	if !req.HasArgument() {
		return sess.Reply(req, 501, "SITE", "Syntax error in parameters or arguments.")
	}

	name, arg, _ := strings.Cut(req.Argument, " ")
	name = strings.ToUpper(name)
	cmd, ok := siteCommands[name]
	if !ok {
		return sess.Reply(req, 502, "SITE", "Unknown SITE command "+name+".")
	}
	if cmd.admin && !sess.Server().Users.IsAdmin(sess.User().Name) {
		logger.Warn("FTP session %s: SITE %s denied for %s", sess.ID, name, sess.User().Name)
		return sess.Reply(req, 530, "SITE", "Permission denied.")
	}
	return cmd.run(ctx, sess, req, strings.TrimSpace(arg))
}

func siteHELP(ctx context.Context, sess *ftp.Session, req *ftp.Request, _ string) error {
	names := make([]string, 0, len(siteCommands))
	for n := range siteCommands {
		names = append(names, n)
	}
	sort.Strings(names)

	lines := []string{"SITE commands:"}
	for _, n := range names {
		lines = append(lines, " "+n)
	}
	lines = append(lines, "End")
	return sess.Write(ftp.NewReply(214, strings.Join(lines, "\n")))
}

// siteZONE reports the server's offset from UTC, e.g. UTC+0200.
func siteZONE(ctx context.Context, sess *ftp.Session, req *ftp.Request, _ string) error {
	return sess.Reply(req, 214, "SITE.ZONE", time.Now().Format("UTC-0700"))
}

func siteWHO(ctx context.Context, sess *ftp.Session, req *ftp.Request, _ string) error {
	lines := []string{fmt.Sprintf("%-16s %-39s %-19s %s", "USER", "CLIENT", "LOGIN", "LAST ACCESS")}
	for _, s := range sess.Server().Sessions() {
		u := s.User()
		if u == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf(" %-15s %-39s %-19s %s",
			u.Name, s.ClientIP(),
			s.LoginTime().Format(time.DateTime),
			s.LastAccess().Format(time.DateTime)))
	}
	lines = append(lines, "End")
	return sess.Write(ftp.NewReply(200, strings.Join(lines, "\n")))
}

func siteSTAT(ctx context.Context, sess *ftp.Session, req *ftp.Request, _ string) error {
	st := sess.Server().Stats.Snapshot()
	rows := [][2]string{
		{"Start Time", st.StartTime.Format(time.DateTime)},
		{"File Upload Number", strconv.FormatInt(st.Uploads, 10)},
		{"File Download Number", strconv.FormatInt(st.Downloads, 10)},
		{"File Delete Number", strconv.FormatInt(st.Deletes, 10)},
		{"File Upload Bytes", strconv.FormatInt(st.UploadedBytes, 10)},
		{"File Download Bytes", strconv.FormatInt(st.DownloadedBytes, 10)},
		{"Directory Create Number", strconv.FormatInt(st.DirsCreated, 10)},
		{"Directory Remove Number", strconv.FormatInt(st.DirsRemoved, 10)},
		{"Current Logins", strconv.FormatInt(st.CurrentLogins, 10)},
		{"Total Logins", strconv.FormatInt(st.TotalLogins, 10)},
		{"Current Anonymous Logins", strconv.FormatInt(st.CurrentAnonymousLogins, 10)},
		{"Total Anonymous Logins", strconv.FormatInt(st.TotalAnonymousLogins, 10)},
		{"Total Failed Logins", strconv.FormatInt(st.TotalFailedLogins, 10)},
		{"Current Connections", strconv.FormatInt(st.CurrentConnections, 10)},
		{"Total Connections", strconv.FormatInt(st.TotalConnections, 10)},
	}

	lines := []string{"Server statistics:"}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf(" %-25s: %s", r[0], r[1]))
	}
	lines = append(lines, "End")
	return sess.Write(ftp.NewReply(200, strings.Join(lines, "\n")))
}

func siteDESCUSER(ctx context.Context, sess *ftp.Session, req *ftp.Request, name string) error {
	if name == "" {
		return sess.Reply(req, 501, "SITE.DESCUSER", "Syntax error in parameters or arguments.")
	}

	u, err := sess.Server().Users.GetUserByName(ctx, name)
	if err != nil {
		return sess.Reply(req, 501, "SITE.DESCUSER", name+": user not found.")
	}

	lines := []string{
		"User " + u.Name + ":",
		" userid          : " + u.Name,
		" userpassword    : ********",
		" homedirectory   : " + u.HomeDir,
		" writepermission : " + strconv.FormatBool(u.WritePermission),
		" enableflag      : " + strconv.FormatBool(u.Enabled),
		" idletime        : " + u.MaxIdleTime.String(),
		" uploadrate      : " + strconv.Itoa(u.MaxUploadRate),
		" downloadrate    : " + strconv.Itoa(u.MaxDownloadRate),
		" maxloginnumber  : " + strconv.Itoa(u.MaxLogins),
		" maxloginperip   : " + strconv.Itoa(u.MaxLoginsPerIP),
		"End",
	}
	return sess.Write(ftp.NewReply(200, strings.Join(lines, "\n")))
}
