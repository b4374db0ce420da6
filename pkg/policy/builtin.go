package policy

// builtinRules returns the always-on policies.
func builtinRules() []Rule {
	return []Rule{
		protectedClassRule(),
		lastNICRule(),
	}
}

// protectedClassRule blocks removal of devices in a protected class,
// whatever the pattern rules say.
func protectedClassRule() Rule {
	return Rule{
		Name: "protected-device-classes",
		Rego: `package ghostsweep.policies.protected

import rego.v1

deny contains violation if {
	input.task.kind == "remove-ghost-devices"
	some class in input.protected_classes
	input.task.class == class
	violation := sprintf("device class %q is protected", [input.task.class])
}
`,
	}
}

// lastNICRule refuses to delete a network-class driver when the
// machine has a single interface left. Losing that driver on a remote
// system would cut the only management path.
func lastNICRule() Rule {
	return Rule{
		Name: "last-nic-guard",
		Rego: `package ghostsweep.policies.lastnic

import rego.v1

deny contains violation if {
	input.task.kind == "remove-stale-drivers"
	input.task.class == "net"
	input.snapshot.interface_count <= 1
	violation := sprintf("refusing to delete network driver %s: only one interface present", [input.task.target])
}
`,
	}
}
