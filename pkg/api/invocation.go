package api

type FragmentType string

const (
	// FragmentWord is a literal word
	FragmentWord FragmentType = "word"
	// FragmentVariable renders the value of a parameter, and is absent if the parameter is unbound
	FragmentVariable FragmentType = "var"
	// FragmentFlag renders Flag if the boolean parameter is true
	FragmentFlag FragmentType = "flag"
)

type InvocationFragment struct {
	Type FragmentType `json:"type"`
	// Literal for word fragments
	Word string `json:"word,omitempty"`
	// Parameter name for var and flag fragments
	Variable string `json:"variable,omitempty"`
	// Prepended to the rendered value of a var fragment, e.g. "--input="
	Prefix string `json:"prefix,omitempty"`
	Flag   string `json:"flag,omitempty"`
}

type ParameterType string

const (
	ParameterText          ParameterType = "text"
	ParameterInteger       ParameterType = "integer"
	ParameterFloatingPoint ParameterType = "floating_point"
	ParameterBoolean       ParameterType = "boolean"
	ParameterFile          ParameterType = "file"
)

type ParameterValue struct {
	Type    ParameterType `json:"type"`
	Text    string        `json:"text,omitempty"`
	Integer int64         `json:"integer,omitempty"`
	Float   float64       `json:"float,omitempty"`
	Bool    bool          `json:"bool,omitempty"`
	// Path of a file parameter, relative to the storage root
	Path string `json:"path,omitempty"`
}

func Word(w string) InvocationFragment {
	return InvocationFragment{Type: FragmentWord, Word: w}
}

func Var(name string) InvocationFragment {
	return InvocationFragment{Type: FragmentVariable, Variable: name}
}

func Flag(name string, flag string) InvocationFragment {
	return InvocationFragment{Type: FragmentFlag, Variable: name, Flag: flag}
}
