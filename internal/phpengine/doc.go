// Package phpengine embeds libphp in a Go process.
//
// A Context drives one run of the engine: it starts the module and a
// request on first use, runs scripts, expressions and function calls, and
// shuts everything down on Close. The engine's environment (output,
// headers, getenv, $_SERVER, logging) is supplied by a SAPI strategy;
// Embedded writes to stdout and HTTP serves a single *http.Request.
//
//	ctx := phpengine.NewEmbedded()
//	defer ctx.Close()
//
//	v, err := ctx.ResultOf("strtoupper('hi')", false)
//	if err != nil {
//	    return err
//	}
//	defer v.Release()
//	fmt.Println(v.Str())
//
// Values are handles on engine memory and must be released. Script errors
// are values too: an uncaught exception is returned as an object Value.
//
// Linking libphp requires the php_embed build tag. Without it every
// Context fails to start with ErrEngineUnavailable.
package phpengine
