package umf

import "strings"

// ParsedRoute is the result of parsing a UMF "to" field's route grammar:
//
//	[instance[-subID]@]serviceName:[METHOD]/path/segments
//
// The instance/subID prefix and the bracketed HTTP method are both
// optional; when no bracketed method is present, HTTPMethod is "get".
type ParsedRoute struct {
	Instance   string
	SubID      string
	Subject    string
	HTTPMethod string
	APIRoute   string
}

// ParseRoute parses a route string per the grammar above:
//  1. If the string contains "@", the portion before it is instance; if
//     that portion contains "-", split into instance and subID.
//  2. The remainder (or the whole string, absent "@") is split on ":".
//     Fewer than two segments is an error.
//  3. If the first segment begins with "http", rejoin it with the
//     second segment (an http(s) URL has an embedded ":").
//  4. The first segment is serviceName; the rest, rejoined with ":", is
//     apiRoute, defaulting to "/" when absent.
//  5. If apiRoute begins with "[", extract the bracketed HTTP method
//     (lowercased) and strip the prefix. An unclosed "[" is an error.
func ParseRoute(route string) (*ParsedRoute, error) {
	p := &ParsedRoute{HTTPMethod: "get"}
	rest := route

	if at := strings.IndexByte(rest, '@'); at >= 0 {
		instance := rest[:at]
		rest = rest[at+1:]
		if dash := strings.IndexByte(instance, '-'); dash >= 0 {
			p.Instance = instance[:dash]
			p.SubID = instance[dash+1:]
		} else {
			p.Instance = instance
		}
	}

	segments := strings.Split(rest, ":")
	if len(segments) < 2 {
		return nil, errInvalidRoute(route)
	}

	if strings.HasPrefix(segments[0], "http") {
		segments[1] = segments[0] + ":" + segments[1]
		segments = append(segments[:0], segments[1:]...)
	}

	p.Subject = segments[0]
	apiRoute := strings.Join(segments[1:], ":")
	if apiRoute == "" {
		apiRoute = "/"
	}

	if strings.HasPrefix(apiRoute, "[") {
		end := strings.IndexByte(apiRoute, ']')
		if end < 0 {
			return nil, errInvalidRoute(route)
		}
		p.HTTPMethod = strings.ToLower(apiRoute[1:end])
		apiRoute = apiRoute[end+1:]
	}
	p.APIRoute = apiRoute

	return p, nil
}

type routeError string

func (e routeError) Error() string { return string(e) }

func errInvalidRoute(route string) error {
	return routeError("umf: invalid route: " + route)
}
