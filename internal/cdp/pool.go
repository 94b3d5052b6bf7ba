package cdp

import (
	"context"
	"sync"
)

// workerPool 固定数量的工作协程与有界任务队列
type workerPool struct {
	tasks chan func()
	quit  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once
	mu    sync.RWMutex
	done  bool
}

func newWorkerPool(workers, capacity int) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	p := &workerPool{tasks: make(chan func(), capacity), quit: make(chan struct{})}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *workerPool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// submit 提交任务，队列已满时阻塞等待。
// ctx 结束或工作池停止时返回 false，任务不会执行。
func (p *workerPool) submit(ctx context.Context, task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.done {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	case <-ctx.Done():
		return false
	case <-p.quit:
		return false
	}
}

// stop 停止接收任务，等待已排队任务执行完毕
func (p *workerPool) stop() {
	p.once.Do(func() {
		// 先唤醒阻塞中的提交者，使其释放读锁
		close(p.quit)
		p.mu.Lock()
		p.done = true
		close(p.tasks)
		p.mu.Unlock()
		p.wg.Wait()
	})
}
