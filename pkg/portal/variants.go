package portal

import "net/url"

// TimetableFunc is the server-side function name of the current timetable
// call.
const TimetableFunc = "currentttGetData"

// Variant is one spelling of the timetable endpoint. Installations differ in
// the script path, the name of the function parameter and the body field
// names; all of them are probed from one table.
type Variant struct {
	Path       string
	FuncParam  string
	Func       string
	ArgsField  string
	TokenField string
}

// URL returns the request path with the function query parameter.
func (v Variant) URL() string {
	q := url.Values{}
	q.Set(v.FuncParam, v.Func)
	return v.Path + "?" + q.Encode()
}

func (v Variant) String() string { return v.URL() + " {" + v.ArgsField + "," + v.TokenField + "}" }

// DefaultVariants is the probe order. The double-underscore body names pair
// with the __func spelling.
var DefaultVariants = []Variant{
	{Path: "/timetable/server/currenttt.js", FuncParam: "__func", Func: TimetableFunc, ArgsField: "__args", TokenField: "__gsh"},
	{Path: "/timetable/server/currenttt.js", FuncParam: "_func", Func: TimetableFunc, ArgsField: "args", TokenField: "_gsh"},
	{Path: "/timetable/server/currentttjs", FuncParam: "__func", Func: TimetableFunc, ArgsField: "__args", TokenField: "__gsh"},
	{Path: "/timetable/server/currentttjs", FuncParam: "_func", Func: TimetableFunc, ArgsField: "args", TokenField: "_gsh"},
}
