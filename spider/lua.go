// CLAUDE:SUMMARY Embedded-interpreter loader — gopher-lua, params as table, SetContext for cancellation.
package spider

import (
	"context"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// luaLoader runs a Lua plugin inside a gopher-lua state. LState is not
// goroutine-safe, so every entry point holds the mutex.
//
// Plugin contract: global functions named after methods, each taking a
// table of params and returning a string. An optional init(ext) global
// receives the extension payload.
type luaLoader struct {
	state
	mu      sync.Mutex
	ls      *lua.LState
	siteKey string
	ext     string
	program string
}

func newLuaLoader(siteKey, ext string, source []byte) Loader {
	return &luaLoader{
		siteKey: siteKey,
		ext:     ext,
		program: string(source),
	}
}

func (l *luaLoader) Init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.get() == StateDestroyed {
		return &ErrNotReady{Site: l.siteKey, State: StateDestroyed}
	}
	l.set(StateInitializing)

	ls := lua.NewState(lua.Options{SkipOpenLibs: false})
	ls.SetContext(ctx)

	if err := ls.DoString(l.program); err != nil {
		ls.Close()
		l.set(StateUninitialized)
		return &ErrInit{Site: l.siteKey, Cause: err}
	}

	if fn := ls.GetGlobal("init"); fn != lua.LNil {
		if err := ls.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, lua.LString(l.ext)); err != nil {
			ls.Close()
			l.set(StateUninitialized)
			return &ErrInit{Site: l.siteKey, Cause: err}
		}
	}

	// Detach the init context; each Call installs its own.
	ls.SetContext(context.Background())
	l.ls = ls
	l.set(StateReady)
	return nil
}

func (l *luaLoader) Call(ctx context.Context, method string, params map[string]string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.ready() {
		return "", &ErrNotReady{Site: l.siteKey, State: l.get()}
	}

	fn := l.ls.GetGlobal(method)
	if fn == lua.LNil {
		return "", &ErrMethodNotFound{Site: l.siteKey, Method: method}
	}

	l.ls.SetContext(ctx)
	defer l.ls.SetContext(context.Background())

	tbl := l.ls.NewTable()
	for k, v := range params {
		tbl.RawSetString(k, lua.LString(v))
	}

	if err := l.ls.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, tbl); err != nil {
		// Surface the deadline rather than lua's wrapping of it.
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	ret := l.ls.Get(-1)
	l.ls.Pop(1)

	if ret == lua.LNil {
		return "", nil
	}
	return ret.String(), nil
}

func (l *luaLoader) Destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ls != nil {
		l.ls.Close()
		l.ls = nil
	}
	l.set(StateDestroyed)
}

func (l *luaLoader) State() State { return l.get() }
