package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
)

// DeviceManager owns the headless wgpu device and queue used for tile pool
// storage and readback. Baking never presents to a surface, so adapter
// selection runs without a compatible surface.
type DeviceManager struct {
	Adapter *wgpu.Adapter
	Device  *wgpu.Device
	Queue   *wgpu.Queue
}

func NewDeviceManager() (*DeviceManager, error) {
	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Lightmap Bake Device",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to request device: %w", err)
	}

	return &DeviceManager{
		Adapter: adapter,
		Device:  device,
		Queue:   device.GetQueue(),
	}, nil
}

func (m *DeviceManager) Release() {
	if m.Device != nil {
		m.Device.Release()
		m.Device = nil
	}
	if m.Adapter != nil {
		m.Adapter.Release()
		m.Adapter = nil
	}
}
