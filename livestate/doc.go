// Package livestate holds the runtime configuration tree and routes
// applied changes to the domain layers that own each top-level section.
//
// State is the tree itself: a diff target whose OnChange hook dispatches
// every applied op to the owning section's Handler and to subscribed
// observers. Handlers can veto a change by returning an error; observers
// are notification only.
//
// Registry maps handler type names to factories. Section bindings are
// resolved by name at startup, replacing event-based registration with
// an explicit lookup table:
//
//	reg := livestate.NewRegistry()
//	_ = reg.Register("schema", schema.NewHandler)
//
//	state := livestate.New()
//	h, _ := reg.Create("schema", "schema", cfg)
//	_ = state.Attach("schema", h)
package livestate
