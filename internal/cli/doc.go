// Package cli реализует инструмент командной строки Harvester.
//
// # Обзор
//
// Команды делятся на две группы:
//   - локальные: работают с БД и object storage напрямую и не требуют daemon'а
//     (run, checkpoint, migrate)
//   - удалённые: обращаются к HTTP API daemon'а
//     (units, runs, providers, trigger)
//
// # Ключевые компоненты
//
// ## Local
//
// Лениво открываемые зависимости локальных команд: конфигурация окружения,
// файл provider'ов, object storage, PostgreSQL, RabbitMQ.
//
// ## Client
//
// HTTP-клиент для API daemon'а. Инкапсулирует запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	units, err := client.ListUnits(cli.ListOpts{Status: "PENDING"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON (json.MarshalIndent) — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: harvester units list --json | jq .
//
// ## Commands
//
// Каждая группа создаётся через фабричную функцию (NewRunCmd и т.д.),
// принимающую clientFn/localFn и outputFn — замыкания для ленивого создания
// зависимостей после парсинга PersistentFlags.
package cli
