// Package forge supplies the Vulkan primitives the cinder lifecycle core
// is built on: a headless device context, descriptor pool sourcing, frame
// slot construction with fences and ordering semaphores, tagged release
// execution, and buffer/image helpers.
package forge

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	vk "github.com/goki/vulkan"

	"github.com/substrate-gfx/ember/cinder"
)

func init() {
	switch strings.ToUpper(os.Getenv("EMBER_LOG_LEVEL")) {
	case "ERROR":
		slog.SetLogLoggerLevel(slog.LevelError)
	case "WARN":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "INFO":
		slog.SetLogLoggerLevel(slog.LevelInfo)
	case "DEBUG":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}

var enableValidation = os.Getenv("EMBER_VALIDATION") == "1"

const validationLayer = "VK_LAYER_KHRONOS_validation\x00"

type ContextOptions struct {
	AppName string

	// enables the Khronos validation layer. Also switched on by
	// EMBER_VALIDATION=1.
	Validation bool
}

// Context encapsulates the Vulkan instance, the chosen physical device,
// the logical device and its graphics queue. It also owns the
// process-lifetime deletion queue, flushed on Release after the device
// has gone idle.
type Context struct {
	Instance    vk.Instance
	GPU         vk.PhysicalDevice
	Device      vk.Device
	Queue       vk.Queue
	QueueFamily uint32

	// Cleanup collects release actions for objects that live until
	// shutdown.
	Cleanup cinder.DeletionQueue

	reaper    Reaper
	immediate *immediateCommands
}

// NewContext initializes the Vulkan loader and creates a headless
// instance, device and graphics queue. No window or surface is involved;
// presentation belongs to the surrounding application.
func NewContext(opts ContextOptions) (ctx *Context, err error) {
	if opts.AppName == "" {
		opts.AppName = "Ember"
	}

	defer func() {
		if err != nil && ctx != nil {
			ctx.Release()
			ctx = nil
		}
	}()

	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, fmt.Errorf("load vulkan library: %w", err)
	}

	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("initialize vulkan loader: %w", err)
	}

	ctx = &Context{}

	if err := ctx.createInstance(opts); err != nil {
		return ctx, fmt.Errorf("create instance: %w", err)
	}

	if err := ctx.pickPhysicalDevice(); err != nil {
		return ctx, fmt.Errorf("pick physical device: %w", err)
	}

	if err := ctx.createDevice(); err != nil {
		return ctx, fmt.Errorf("create device: %w", err)
	}

	ctx.reaper = Reaper{Device: ctx.Device}

	return ctx, nil
}

func (c *Context) createInstance(opts ContextOptions) error {
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeStr(opts.AppName),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        safeStr("ember"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 2, 0),
	}

	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}

	if opts.Validation || enableValidation {
		slog.Info("Enable validation layer")

		createInfo.EnabledLayerCount = 1
		createInfo.PpEnabledLayerNames = []string{validationLayer}
	}

	var instance vk.Instance
	if err := vk.Error(vk.CreateInstance(&createInfo, nil, &instance)); err != nil {
		return err
	}

	c.Instance = instance
	vk.InitInstance(instance)

	return nil
}

func (c *Context) pickPhysicalDevice() error {
	var count uint32
	vk.EnumeratePhysicalDevices(c.Instance, &count, nil)
	if count == 0 {
		return errors.New("no vulkan capable GPU found")
	}

	gpus := make([]vk.PhysicalDevice, count)
	vk.EnumeratePhysicalDevices(c.Instance, &count, gpus)

	for _, gpu := range gpus {
		var familyCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &familyCount, nil)

		families := make([]vk.QueueFamilyProperties, familyCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &familyCount, families)

		for i, family := range families {
			family.Deref()

			if family.QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
				c.GPU = gpu
				c.QueueFamily = uint32(i)

				var props vk.PhysicalDeviceProperties
				vk.GetPhysicalDeviceProperties(gpu, &props)
				props.Deref()

				slog.Info("Use physical device",
					slog.String("name", vk.ToString(props.DeviceName[:])),
					slog.Int("queueFamily", i),
				)

				return nil
			}
		}
	}

	return errors.New("no GPU with a graphics queue found")
}

func (c *Context) createDevice() error {
	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: c.QueueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}

	deviceInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    []vk.DeviceQueueCreateInfo{queueInfo},
	}

	var device vk.Device
	if err := vk.Error(vk.CreateDevice(c.GPU, &deviceInfo, nil, &device)); err != nil {
		return err
	}

	c.Device = device

	var queue vk.Queue
	vk.GetDeviceQueue(device, c.QueueFamily, 0, &queue)
	c.Queue = queue

	return nil
}

// WaitIdle blocks until all submitted GPU work has completed.
func (c *Context) WaitIdle() error {
	if err := vk.Error(vk.DeviceWaitIdle(c.Device)); err != nil {
		return fmt.Errorf("wait for device idle: %w", err)
	}

	return nil
}

// ReleaseTarget returns the target executing tagged release actions
// against this context's device.
func (c *Context) ReleaseTarget() cinder.ReleaseTarget {
	return &c.reaper
}

// Release tears the context down in reverse construction order. Pending
// actions on the process-lifetime deletion queue run first, after a full
// idle wait.
func (c *Context) Release() {
	if c.Device != nil {
		if err := c.WaitIdle(); err != nil {
			slog.Error("Device wait before shutdown failed", slog.Any("err", err))
		}

		c.Cleanup.Flush(&c.reaper)

		vk.DestroyDevice(c.Device, nil)
		c.Device = nil
	}

	if c.Instance != nil {
		vk.DestroyInstance(c.Instance, nil)
		c.Instance = nil
	}
}

// vulkan expects C strings
func safeStr(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}

	return s + "\x00"
}
