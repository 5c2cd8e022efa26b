package files

import (
	"fmt"
	"strings"
)

// Zone is the storage area an object lives in, encoded as the first
// segment of its path.
type Zone int

const (
	ZoneUnknown Zone = iota
	ZoneTemp
	ZonePublic
	ZonePrivate
	ZoneDeleted
)

func (z Zone) String() string {
	switch z {
	case ZoneTemp:
		return "temp"
	case ZonePublic:
		return "public"
	case ZonePrivate:
		return "private"
	case ZoneDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

func parseZone(s string) Zone {
	switch s {
	case "temp":
		return ZoneTemp
	case "public":
		return ZonePublic
	case "private":
		return ZonePrivate
	case "deleted":
		return ZoneDeleted
	default:
		return ZoneUnknown
	}
}

// Location is a parsed file path.
//
// For paths in the deleted zone, Origin holds the zone the object was in
// before it was deleted ("deleted/public/a.txt" has Zone=ZoneDeleted,
// Origin=ZonePublic, Rest="a.txt"). For every other zone Origin equals Zone.
type Location struct {
	Zone   Zone
	Origin Zone
	Rest   string
}

// Path renders the location back into its string form.
func (l Location) Path() string {
	if l.Zone == ZoneDeleted {
		return ZoneDeleted.String() + "/" + l.Origin.String() + "/" + l.Rest
	}
	return l.Zone.String() + "/" + l.Rest
}

// ParsePath splits a path into its zone prefix and remainder. Paths without a
// recognised zone prefix are rejected, as are remainders that are empty or
// contain empty, "." or ".." segments: "public/../private/a.pdf" must not
// pass as a public path.
func ParsePath(path string) (Location, error) {
	head, rest, ok := strings.Cut(path, "/")
	zone := parseZone(head)
	if !ok || zone == ZoneUnknown {
		return Location{}, newPathError(path, "path has no recognised zone prefix")
	}

	if zone == ZoneDeleted {
		originName, remainder, ok := strings.Cut(rest, "/")
		origin := parseZone(originName)
		if !ok || origin == ZoneUnknown || origin == ZoneDeleted {
			return Location{}, newPathError(path, "deleted path has no recognised original zone")
		}
		if err := checkRemainder(path, remainder); err != nil {
			return Location{}, err
		}
		return Location{Zone: ZoneDeleted, Origin: origin, Rest: remainder}, nil
	}

	if err := checkRemainder(path, rest); err != nil {
		return Location{}, err
	}
	return Location{Zone: zone, Origin: zone, Rest: rest}, nil
}

func checkRemainder(path, rest string) error {
	if rest == "" {
		return newPathError(path, "path has an empty remainder")
	}
	for _, seg := range strings.Split(rest, "/") {
		switch seg {
		case "":
			return newPathError(path, "path has an empty segment")
		case ".", "..":
			return newPathError(path, "path has a relative segment")
		}
	}
	return nil
}

// ZoneOf returns the zone of path, or ZoneUnknown if the path is invalid.
func ZoneOf(path string) Zone {
	loc, err := ParsePath(path)
	if err != nil {
		return ZoneUnknown
	}
	return loc.Zone
}

// Transition computes where path ends up when moved into target. The second
// return value is false when the path is already in target and no store call
// is needed.
//
// Moving to ZoneDeleted prefixes the current zone so the object can be
// restored later. Moving a deleted path to public or private drops the
// deleted/<origin> prefix and places the remainder in target.
func Transition(path string, target Zone) (string, bool, error) {
	loc, err := ParsePath(path)
	if err != nil {
		return "", false, err
	}

	switch target {
	case ZoneTemp, ZonePublic, ZonePrivate:
		if loc.Zone == target {
			return path, false, nil
		}
		return Location{Zone: target, Origin: target, Rest: loc.Rest}.Path(), true, nil
	case ZoneDeleted:
		if loc.Zone == ZoneDeleted {
			return path, false, nil
		}
		return Location{Zone: ZoneDeleted, Origin: loc.Zone, Rest: loc.Rest}.Path(), true, nil
	default:
		return "", false, &Error{
			Code:    CodeInvalidPath,
			Message: fmt.Sprintf("cannot move to zone %s", target),
			Path:    path,
		}
	}
}

// DeletedPath returns the deleted-zone path for path. Already deleted paths
// are returned unchanged with moved=false.
func DeletedPath(path string) (string, bool, error) {
	return Transition(path, ZoneDeleted)
}

// RestorePath reverses DeletedPath: "deleted/<zone>/rest" becomes "<zone>/rest".
func RestorePath(path string) (string, error) {
	loc, err := ParsePath(path)
	if err != nil {
		return "", err
	}
	if loc.Zone != ZoneDeleted {
		return "", newPathError(path, "path is not in the deleted zone")
	}
	return Location{Zone: loc.Origin, Origin: loc.Origin, Rest: loc.Rest}.Path(), nil
}
