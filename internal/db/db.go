package db

import (
	"log"
	"os"

	"fitfeed/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func Init() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		// Fallback for local dev if not set
		dsn = "host=localhost user=postgres password=postgres dbname=fitfeed port=5432 sslmode=disable TimeZone=UTC"
	}

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Database connection established")

	if err := Migrate(DB); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database migration completed")

	// Seed default sources
	seedSources()
}

// Migrate 建表/迁移，测试环境复用同一份模型列表
func Migrate(g *gorm.DB) error {
	return g.AutoMigrate(
		&models.Source{},
		&models.RawEntry{},
		&models.Article{},
		&models.ArticleEmbedding{},
		&models.UserEvent{},
		&models.FeedImpression{},
		&models.UserPreference{},
		&models.SavedArticle{},
		&models.HiddenArticle{},
	)
}

// seedSources 幂等播种默认新闻源，以 rss_url 为稳定唯一键
// 管理员手工创建或修改过的源不会被覆盖
func seedSources() {
	defaults := []models.Source{
		{Name: "Muscle & Fitness", RSSURL: "https://www.muscleandfitness.com/feed/", Category: "fitness", Tags: "strength,workout,bodybuilding", Priority: 1, Enabled: true},
		{Name: "Breaking Muscle", RSSURL: "https://breakingmuscle.com/feed/", Category: "fitness", Tags: "strength,training,science", Priority: 1, Enabled: true},
		{Name: "T-Nation", RSSURL: "https://www.t-nation.com/feed/", Category: "fitness", Tags: "bodybuilding,strength,performance", Priority: 1, Enabled: true},
		{Name: "Bodybuilding.com Articles", RSSURL: "https://www.bodybuilding.com/rss/articles", Category: "fitness", Tags: "bodybuilding,nutrition,training", Priority: 1, Enabled: true},
		{Name: "Men's Health Fitness", RSSURL: "https://www.menshealth.com/rss/all.xml/", Category: "fitness", Tags: "fitness,health,training", Priority: 1, Enabled: true},
	}

	created := 0
	for _, src := range defaults {
		var count int64
		DB.Model(&models.Source{}).Where("rss_url = ?", src.RSSURL).Count(&count)
		if count > 0 {
			continue
		}
		if err := DB.Create(&src).Error; err != nil {
			log.Printf("Failed to seed source %s: %v", src.Name, err)
			continue
		}
		created++
	}
	if created > 0 {
		log.Printf("Seeded %d default news sources", created)
	}
}
