package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lupppig/dbu/internal/compress"
	apperrors "github.com/lupppig/dbu/internal/errors"
)

const stampLayout = "2006-01-02_15-04-05"

// Plan is where a backup run writes its raw dump and where the result ends up.
// DumpPath equals FinalPath when no compression is requested.
type Plan struct {
	DumpPath  string
	FinalPath string
}

// Temporary reports whether DumpPath is an intermediate file to remove after compression.
func (p Plan) Temporary() bool {
	return p.DumpPath != p.FinalPath
}

// ResolveDestination applies the destination rules:
// an empty destination is the working directory; an existing directory or a
// path ending in a separator gets a synthesized backup_<db>_<stamp> name;
// anything else is used literally, with its parent created on demand.
func ResolveDestination(dest, dbName, rawExt string, kind compress.Kind, now time.Time) (Plan, error) {
	if dest == "" {
		dest = "."
	}

	if isDirTarget(dest) {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return Plan{}, apperrors.Wrap(err, apperrors.TypeResource, "cannot create backup directory", "Check permissions on the output path.")
		}
		stem := filepath.Join(dest, fmt.Sprintf("backup_%s_%s", stemName(dbName), now.Format(stampLayout)))
		plan := Plan{DumpPath: stem + rawExt, FinalPath: stem + rawExt}
		if kind != compress.None && kind != "" {
			plan.FinalPath = stem + kind.Suffix()
		}
		return plan, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Plan{}, apperrors.Wrap(err, apperrors.TypeResource, "cannot create backup directory", "Check permissions on the output path.")
	}
	plan := Plan{DumpPath: dest, FinalPath: dest}
	if kind != compress.None && kind != "" {
		plan.DumpPath = filepath.Join(filepath.Dir(dest), "."+filepath.Base(dest)+".dump"+rawExt)
	}
	return plan, nil
}

func isDirTarget(dest string) bool {
	if strings.HasSuffix(dest, string(os.PathSeparator)) || strings.HasSuffix(dest, "/") {
		return true
	}
	info, err := os.Stat(dest)
	return err == nil && info.IsDir()
}

// stemName lower-cases the database name. File paths (SQLite) are reduced to their base name.
func stemName(dbName string) string {
	name := strings.ToLower(dbName)
	if strings.ContainsAny(name, `/\`) {
		name = filepath.Base(name)
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	if name == "" || name == "." {
		return "db"
	}
	return name
}
