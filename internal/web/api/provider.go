package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/gowvp/skylapse/internal/conf"
	"github.com/gowvp/skylapse/internal/core/assembler"
	"github.com/gowvp/skylapse/internal/core/query"
	"github.com/gowvp/skylapse/internal/core/resource"
	"github.com/gowvp/skylapse/internal/core/scheduler"
	"github.com/gowvp/skylapse/internal/core/storage"
	"github.com/gowvp/skylapse/internal/core/storage/store/storagedb"
	"github.com/gowvp/skylapse/pkg/ffwork"
	"github.com/ixugo/goddd/pkg/orm"
	"gorm.io/gorm"
)

var ProviderSet = wire.NewSet(
	wire.Struct(new(Usecase), "*"),
	NewHTTPHandler,
	NewRegistry,
	NewCodec,
	NewStorageStore, NewStorageCore,
	NewAssemblerCore,
	NewQueryCore,
	NewScheduler,
	NewResourceAPI,
)

type Usecase struct {
	Conf        *conf.Bootstrap
	ResourceAPI ResourceAPI
	Scheduler   *scheduler.Scheduler
}

// NewHTTPHandler 生成Gin框架路由内容
func NewHTTPHandler(uc *Usecase) http.Handler {
	cfg := uc.Conf.Server
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	g := gin.New()
	g.NoRoute(func(c *gin.Context) {
		c.JSON(404, "来到了无人的荒漠")
	})
	setupRouter(g, uc)
	return g
}

// NewRegistry 加载配置中的资源
func NewRegistry(bc *conf.Bootstrap) (*resource.Registry, error) {
	return resource.NewRegistry(bc.Resources)
}

// NewCodec ffmpeg 调用器，同时服务存储与合成
func NewCodec(bc *conf.Bootstrap) *ffwork.Runner {
	return ffwork.NewRunner(ffwork.Config{
		Binary:   bc.Codec.Binary,
		Timeout:  bc.Codec.Timeout.Duration(),
		Attempts: bc.Codec.Attempts,
	})
}

// NewStorageStore 创建实例索引存储层
func NewStorageStore(db *gorm.DB) storage.Storer {
	return storagedb.NewDB(db).AutoMigrate(orm.GetEnabledAutoMigrate())
}

// NewStorageCore 创建存储核心服务，并启动清理协程
func NewStorageCore(store storage.Storer, registry *resource.Registry, codec *ffwork.Runner, bc *conf.Bootstrap) (storage.Core, func()) {
	core := storage.NewCore(store, registry,
		storage.WithConfig(&bc.Storage),
		storage.WithCodec(codec),
		storage.WithFillerDuration(bc.Codec.FillerDuration.Duration()),
	)
	for _, res := range registry.Active() {
		core.EnsureDirectoryStructure(res.Number)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go core.StartCleanupWorker(ctx)
	return core, cancel
}

// NewAssemblerCore 创建合成服务
func NewAssemblerCore(store storage.Core, codec *ffwork.Runner, bc *conf.Bootstrap) assembler.Core {
	return assembler.NewCore(store, codec,
		assembler.WithConfig(&bc.Codec),
		assembler.WithFillEmptyDays(bc.Storage.FillEmptyDays),
	)
}

// NewQueryCore 创建范围查询服务
func NewQueryCore(store storage.Core, bc *conf.Bootstrap) query.Core {
	return query.NewCore(store, query.WithGracePeriod(bc.Scheduler.GracePeriod.Duration()))
}

// NewScheduler 创建并启动定时合成任务
func NewScheduler(registry *resource.Registry, store storage.Core, asm assembler.Core, bc *conf.Bootstrap) (*scheduler.Scheduler, func()) {
	s := scheduler.New(registry, store, asm,
		scheduler.WithAssemblyInterval(bc.Scheduler.AssemblyInterval.Duration()),
		scheduler.WithGracePeriod(bc.Scheduler.GracePeriod.Duration()),
	)
	if !bc.Scheduler.Disabled {
		s.Start(context.Background())
	}
	return s, s.Stop
}
