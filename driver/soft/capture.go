package soft

import (
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/conductor/driver"
)

// ExecutedCommand is a command as it was executed by one of a device's queues
type ExecutedCommand struct {
	Queue   driver.QueueType
	Stream  uint64
	Command Command
}

// History returns every command executed so far, in execution order. It is only populated when
// the device was created with KeepHistory.
func (d *Device) History() []ExecutedCommand {
	d.historyLock.Lock()
	defer d.historyLock.Unlock()

	history := make([]ExecutedCommand, len(d.history))
	copy(history, d.history)
	return history
}

// ExecutedBarriers returns every barrier executed so far, in execution order
func (d *Device) ExecutedBarriers() []driver.ResourceBarrier {
	var barriers []driver.ResourceBarrier
	for _, executed := range d.History() {
		if executed.Command.Op == OpBarrier {
			barriers = append(barriers, executed.Command.Barriers...)
		}
	}
	return barriers
}

func resourceName(res driver.Resource) string {
	if res == nil {
		return ""
	}
	return res.Name()
}

// WriteCapture streams the command history to w as a json array
func (d *Device) WriteCapture(w io.Writer) error {
	history := d.History()

	writer := jwriter.NewStreamingWriter(w, 4096)
	arr := writer.Array()

	for _, executed := range history {
		obj := arr.Object()
		obj.Name("Queue").String(executed.Queue.String())
		obj.Name("Stream").Int(int(executed.Stream))
		printCommand(&obj, &executed.Command)
		obj.End()
	}

	arr.End()
	if err := writer.Flush(); err != nil {
		return err
	}
	return writer.Error()
}

func printCommand(obj *jwriter.ObjectState, command *Command) {
	obj.Name("Op").String(command.Op.String())

	switch command.Op {
	case OpBarrier:
		barriers := obj.Name("Barriers").Array()
		for _, barrier := range command.Barriers {
			barrierObj := barriers.Object()
			barrierObj.Name("Type").String(barrier.Type.String())
			switch barrier.Type {
			case driver.BarrierTransition:
				barrierObj.Name("Resource").String(resourceName(barrier.Resource))
				barrierObj.Name("Subresource").Int(int(int32(barrier.Subresource)))
				barrierObj.Name("Before").String(barrier.StateBefore.String())
				barrierObj.Name("After").String(barrier.StateAfter.String())
			case driver.BarrierUAV:
				barrierObj.Name("Resource").String(resourceName(barrier.Resource))
			case driver.BarrierAliasing:
				barrierObj.Name("Before").String(resourceName(barrier.AliasBefore))
				barrierObj.Name("After").String(resourceName(barrier.AliasAfter))
			}
			barrierObj.End()
		}
		barriers.End()
	case OpCopyResource:
		obj.Name("Dst").String(resourceName(command.Dst))
		obj.Name("Src").String(resourceName(command.Src))
	case OpCopyBufferRegion:
		obj.Name("Dst").String(resourceName(command.Dst))
		obj.Name("DstOffset").Int(command.DstOffset)
		obj.Name("Src").String(resourceName(command.Src))
		obj.Name("SrcOffset").Int(command.SrcOffset)
		obj.Name("Size").Int(command.Size)
	case OpSetGraphicsBindingLayout, OpSetComputeBindingLayout:
		obj.Name("Layout").String(command.Layout.Name)
	case OpSetGraphicsDescriptorTable, OpSetComputeDescriptorTable:
		obj.Name("Param").Int(command.Param)
		obj.Name("Handle").Float64(float64(command.GPUHandle &^ driver.GPUDescriptorHandle(gpuHandleBit)))
	case OpSetGraphicsConstantBufferView, OpSetComputeConstantBufferView:
		obj.Name("Param").Int(command.Param)
		obj.Name("Address").Float64(float64(command.Address))
	case OpDraw, OpDrawIndexed, OpDispatch:
		args := obj.Name("Args").Array()
		for _, arg := range command.Args {
			args.Int(arg)
		}
		args.End()
	}
}
