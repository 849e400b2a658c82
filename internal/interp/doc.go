// Package interp owns the embedded Starlark runtime shared by every script
// filter in the process. A Host is reference counted through Attach/Detach
// and serializes all interpreter work behind a single exclusive token: the
// only way to touch modules, call script functions or inspect fault state is
// through the Session handed to WithExclusive.
package interp
