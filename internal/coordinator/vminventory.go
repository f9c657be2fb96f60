package coordinator

import "context"

// MockVMInventory always reports the VM as present, suitable for local/test
// mode (SUPPLEMENTED FEATURES: "VM-inventory consult for offline -> deleted").
type MockVMInventory struct{}

func (MockVMInventory) Exists(ctx context.Context, agentName string) (bool, error) {
	return true, nil
}
