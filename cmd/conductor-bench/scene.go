package main

import (
	"log/slog"
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/conductor/command"
	"github.com/vkngwrapper/conductor/driver"
)

const (
	vertexStride  = 12
	particleCount = 1024
)

var cubeVertices = []mgl32.Vec3{
	{-1, -1, -1}, {1, -1, -1}, {1, 1, -1}, {-1, 1, -1},
	{-1, -1, 1}, {1, -1, 1}, {1, 1, 1}, {-1, 1, 1},
}

var cubeIndices = []uint16{
	0, 1, 2, 2, 3, 0,
	4, 5, 6, 6, 7, 4,
	0, 4, 7, 7, 3, 0,
	1, 5, 6, 6, 2, 1,
	3, 2, 6, 6, 7, 3,
	0, 1, 5, 5, 4, 0,
}

var computeLayout = &driver.BindingLayout{
	Name: "particles",
	Parameters: []driver.RootParameter{
		{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{{Type: driver.RangeUnorderedAccess, NumDescriptors: 1}}},
		{Type: driver.RootParameterConstantBufferView},
	},
}

var drawLayout = &driver.BindingLayout{
	Name: "objects",
	Parameters: []driver.RootParameter{
		{Type: driver.RootParameterConstantBufferView},
		{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{{Type: driver.RangeShaderResource, NumDescriptors: 2}}},
		{Type: driver.RootParameterDescriptorTable, Ranges: []driver.DescriptorRange{{Type: driver.RangeSampler, NumDescriptors: 1}}},
	},
}

func bytesOf[T any](values []T) []byte {
	if len(values) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*int(unsafe.Sizeof(values[0])))
}

// scene is a rotating field of cubes drawn over a particle buffer that a compute pass rewrites
// every frame
type scene struct {
	device   *command.Device
	textures *command.ResourceCache

	vertices  driver.Buffer
	indices   driver.Buffer
	particles driver.Buffer

	particleUAV *command.View
	particleSRV *command.View
	sampler     *command.View

	lastCompute uint64
	lastDirect  uint64
}

func newScene(logger *slog.Logger, device *command.Device) (*scene, error) {
	s := &scene{
		device:   device,
		textures: command.NewResourceCache(logger, device, command.ResourceCacheOptions{}),
	}

	var err error
	if s.vertices, err = device.CreateBuffer(driver.BufferDesc{Name: "cube vertices", Size: len(cubeVertices) * vertexStride}); err != nil {
		return nil, err
	}
	if s.indices, err = device.CreateBuffer(driver.BufferDesc{Name: "cube indices", Size: len(cubeIndices) * 2}); err != nil {
		return nil, err
	}
	if s.particles, err = device.CreateBuffer(driver.BufferDesc{Name: "particles", Size: particleCount * 16, Usage: driver.UsageUnorderedAccess}); err != nil {
		return nil, err
	}
	if err = s.addTexture(driver.TextureDesc{Name: "albedo", Dimension: driver.TextureDimension2D, Width: 256, Height: 256, MipLevels: 4}, driver.ViewShaderResource); err != nil {
		return nil, err
	}
	if err = s.addTexture(driver.TextureDesc{Name: "target", Dimension: driver.TextureDimension2D, Width: 1280, Height: 720, Usage: driver.UsageRenderTarget}, driver.ViewRenderTarget); err != nil {
		return nil, err
	}

	if s.particleUAV, err = device.CreateView(s.particles, driver.ViewUnorderedAccess, 0); err != nil {
		return nil, err
	}
	if s.particleSRV, err = device.CreateView(s.particles, driver.ViewShaderResource, 0); err != nil {
		return nil, err
	}
	if s.sampler, err = device.CreateSampler(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *scene) addTexture(desc driver.TextureDesc, viewType driver.ViewType) error {
	texture, err := s.device.CreateTexture(desc)
	if err != nil {
		return err
	}

	view, err := s.device.CreateView(texture, viewType, 0)
	if err != nil {
		return err
	}
	return s.textures.Insert(desc.Name, texture, view)
}

// upload copies the static geometry on the copy queue and makes the direct queue wait for it
func (s *scene) upload() error {
	queue := s.device.CopyQueue()
	ctx, err := queue.Context()
	if err != nil {
		return err
	}

	if err = ctx.CopyBuffer(s.vertices, bytesOf(cubeVertices)); err != nil {
		return err
	}
	if err = ctx.CopyBuffer(s.indices, bytesOf(cubeIndices)); err != nil {
		return err
	}

	value, err := queue.Submit(ctx)
	if err != nil {
		return err
	}
	return s.device.DirectQueue().WaitQueue(queue, value)
}

func (s *scene) simulate(frame uint64) error {
	queue := s.device.ComputeQueue()
	if s.lastDirect > 0 {
		err := queue.WaitQueue(s.device.DirectQueue(), s.lastDirect)
		if err != nil {
			return err
		}
	}

	ctx, err := queue.Context()
	if err != nil {
		return err
	}

	err = ctx.SetComputeBindingLayout(computeLayout)
	if err != nil {
		return err
	}
	ctx.SetUnorderedAccessView(0, 0, s.particleUAV)

	step := []float32{float32(frame) / 60, 1.0 / 60}
	err = ctx.SetComputeDynamicConstantBuffer(1, bytesOf(step))
	if err != nil {
		return err
	}
	err = ctx.Dispatch(particleCount/64, 1, 1)
	if err != nil {
		return err
	}
	ctx.UAVBarrier(s.particles, true)

	s.lastCompute, err = queue.Submit(ctx)
	return err
}

func (s *scene) draw(frame uint64, objects int) error {
	queue := s.device.DirectQueue()
	err := queue.WaitQueue(s.device.ComputeQueue(), s.lastCompute)
	if err != nil {
		return err
	}

	ctx, err := queue.Context()
	if err != nil {
		return err
	}

	ctx.ClearRenderTarget(s.textures.View("target", 0), [4]float32{0.1, 0.1, 0.1, 1})

	err = ctx.SetGraphicsBindingLayout(drawLayout)
	if err != nil {
		return err
	}
	ctx.SetShaderResourceView(1, 0, s.textures.View("albedo", 0))
	ctx.SetShaderResourceView(1, 1, s.particleSRV)
	ctx.SetSampler(2, 0, s.sampler)
	ctx.SetVertexBuffer(0, s.vertices, vertexStride)
	ctx.SetIndexBuffer(s.indices, driver.IndexFormatUint16)

	projection := mgl32.Perspective(mgl32.DegToRad(45), 1280.0/720.0, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 4, 12}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0})
	angle := float32(frame) * 0.01

	side := int(math.Ceil(math.Sqrt(float64(objects))))
	for i := 0; i < objects; i++ {
		x := float32(i%side) - float32(side)/2
		z := float32(i/side) - float32(side)/2
		model := mgl32.Translate3D(x*3, 0, z*3).Mul4(mgl32.HomogRotate3D(angle+float32(i), mgl32.Vec3{0, 1, 0}))
		mvp := projection.Mul4(view).Mul4(model)

		err = ctx.SetGraphicsDynamicConstantBuffer(0, bytesOf(mvp[:]))
		if err != nil {
			return err
		}
		err = ctx.DrawIndexed(len(cubeIndices), 1, 0, 0, 0)
		if err != nil {
			return errors.Wrapf(err, "failed to draw object %d", i)
		}
	}

	s.lastDirect, err = queue.Submit(ctx)
	return err
}

func (s *scene) release() error {
	err := s.textures.Clear()
	for _, view := range []*command.View{s.particleUAV, s.particleSRV, s.sampler} {
		err = errors.CombineErrors(err, view.Release())
	}
	return err
}
