package handler

// Hook is a middleware entry expressed as a record of optional phase
// functions instead of a wrapper closure. Hooks registered on a chain
// follow onion semantics: Before functions run in registration order,
// After functions unwind in reverse registration order, and OnError
// functions run innermost-first when the handler or a hook fails.
type Hook[C Context] struct {
	// Before runs ahead of the route handler. Returning a non-nil
	// Response short-circuits the request: remaining Before hooks and
	// the handler are skipped, while After hooks of already-entered
	// entries still unwind.
	Before func(ctx C) Response

	// After may rewrite the response on the way out. Returning nil
	// keeps the current response.
	After func(ctx C, resp Response) Response

	// OnError may convert an error into a replacement response. The
	// first hook to return a non-nil Response stops propagation.
	OnError func(ctx C, err error) Response
}

// HookChain runs an ordered list of hooks around a core action.
type HookChain[C Context] struct {
	hooks []Hook[C]
}

// NewHookChain creates a chain preserving registration order.
func NewHookChain[C Context](hooks ...Hook[C]) *HookChain[C] {
	return &HookChain[C]{hooks: hooks}
}

// Append adds hooks to the end of the chain.
func (c *HookChain[C]) Append(hooks ...Hook[C]) {
	c.hooks = append(c.hooks, hooks...)
}

// Len reports the number of registered hooks.
func (c *HookChain[C]) Len() int { return len(c.hooks) }

// Run executes the onion around fn. The entered counter tracks how many
// Before hooks ran so that only their After counterparts unwind.
func (c *HookChain[C]) Run(ctx C, fn func(C) (Response, error)) (Response, error) {
	var resp Response
	entered := len(c.hooks)

	for i, h := range c.hooks {
		if h.Before == nil {
			continue
		}
		if r := h.Before(ctx); r != nil {
			resp = r
			entered = i + 1
			break
		}
	}

	var err error
	if resp == nil {
		resp, err = fn(ctx)
		if err != nil {
			if r := c.HandleError(ctx, err); r != nil {
				resp, err = r, nil
			}
		}
	}
	if err != nil {
		return nil, err
	}

	for i := entered - 1; i >= 0; i-- {
		h := c.hooks[i]
		if h.After == nil {
			continue
		}
		if r := h.After(ctx, resp); r != nil {
			resp = r
		}
	}

	return resp, nil
}

// HandleError offers err to OnError hooks innermost-first and returns
// the first replacement response, or nil when no hook handled it.
func (c *HookChain[C]) HandleError(ctx C, err error) Response {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		h := c.hooks[i]
		if h.OnError == nil {
			continue
		}
		if r := h.OnError(ctx, err); r != nil {
			return r
		}
	}
	return nil
}
