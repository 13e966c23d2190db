// Package buildinfo carries version data stamped at link time:
//
//	go build -ldflags "-X orderbridge/internal/buildinfo.Version=v1.2.0 -X orderbridge/internal/buildinfo.Commit=$(git rev-parse --short HEAD)"
package buildinfo

var (
    Version = "dev"
    Commit  = ""
    BuiltAt = ""
)

func Info() map[string]string {
    return map[string]string{
        "version": Version,
        "commit":  Commit,
        "builtAt": BuiltAt,
    }
}

// String renders "v1.2.0 (abc123, 2024-05-02T10:00:00Z)", omitting unknown parts.
func String() string {
    s := Version
    switch {
    case Commit != "" && BuiltAt != "":
        s += " (" + Commit + ", " + BuiltAt + ")"
    case Commit != "":
        s += " (" + Commit + ")"
    case BuiltAt != "":
        s += " (" + BuiltAt + ")"
    }
    return s
}
